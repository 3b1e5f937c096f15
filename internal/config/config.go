// Package config loads server configuration from defaults, an optional YAML
// file, and environment variables, in that order.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Relational backend selectors.
const (
	BackendEmbedded  = "embedded"
	BackendNetworked = "networked"
)

// Config represents the full application configuration.
type Config struct {
	Relational RelationalConfig `yaml:"relational" json:"relational"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Graph      GraphConfig      `yaml:"graph" json:"graph"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Memory     MemoryConfig     `yaml:"memory" json:"memory"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Timeouts   TimeoutConfig    `yaml:"timeouts" json:"timeouts"`
}

// RelationalConfig selects and parameterizes the relational backend.
type RelationalConfig struct {
	Backend       string `yaml:"backend" json:"backend"` // embedded | networked
	EmbeddedPath  string `yaml:"embedded_path" json:"embedded_path"`
	Host          string `yaml:"host" json:"host"`
	Port          int    `yaml:"port" json:"port"`
	Name          string `yaml:"name" json:"name"`
	User          string `yaml:"user" json:"user"`
	Password      string `yaml:"-" json:"-"` // never serialized
	MaxConns      int    `yaml:"max_conns" json:"max_conns"`
	IdleMS        int    `yaml:"idle_ms" json:"idle_ms"`
	ConnTimeoutMS int    `yaml:"conn_timeout_ms" json:"conn_timeout_ms"`
}

// DSN builds the postgres connection string for the networked backend.
func (r *RelationalConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable connect_timeout=%d",
		r.Host, r.Port, r.Name, r.User, r.Password, (r.ConnTimeoutMS+999)/1000)
}

// VectorConfig parameterizes the qdrant adapter.
type VectorConfig struct {
	URL        string `yaml:"url" json:"url"`
	Collection string `yaml:"collection" json:"collection"`
}

// HostPort splits the vector URL into the gRPC host and port qdrant expects.
func (v *VectorConfig) HostPort() (string, int, error) {
	raw := v.URL
	if raw == "" {
		return "localhost", 6334, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Bare host[:port] form.
		u = &url.URL{Host: raw}
	}
	host := u.Hostname()
	if host == "" {
		host = raw
	}
	port := 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid vector port %q: %w", p, err)
		}
	}
	return host, port, nil
}

// GraphConfig parameterizes the neo4j adapter. Empty URL disables the graph
// store; the pipeline degrades.
type GraphConfig struct {
	URL      string `yaml:"url" json:"url"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"-" json:"-"`
	Database string `yaml:"database" json:"database"`
}

// Enabled reports whether a graph store endpoint is configured.
func (g *GraphConfig) Enabled() bool { return g.URL != "" }

// LLMConfig selects chat and embedding providers by model string.
type LLMConfig struct {
	ChatModel      string `yaml:"chat_model" json:"chat_model"`
	ChatAPIKey     string `yaml:"-" json:"-"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	OpenAIAPIKey   string `yaml:"-" json:"-"`
	LocalURL       string `yaml:"local_url" json:"local_url"`
}

// MemoryConfig holds pipeline tunables.
type MemoryConfig struct {
	ShortMemoryCapacity int    `yaml:"short_memory_capacity" json:"short_memory_capacity"`
	DirectivePath       string `yaml:"directive_path" json:"directive_path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	Path  string `yaml:"path" json:"path"`
}

// TimeoutConfig holds per-call deadlines in seconds.
type TimeoutConfig struct {
	ChatSeconds      int `yaml:"chat_seconds" json:"chat_seconds"`
	EmbeddingSeconds int `yaml:"embedding_seconds" json:"embedding_seconds"`
	StoreSeconds     int `yaml:"store_seconds" json:"store_seconds"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Relational: RelationalConfig{
			Backend:       BackendEmbedded,
			EmbeddedPath:  "./memory.db",
			Host:          "localhost",
			Port:          5432,
			Name:          "memory",
			User:          "memory",
			MaxConns:      20,
			IdleMS:        30000,
			ConnTimeoutMS: 2000,
		},
		Vector: VectorConfig{
			Collection: "memory-main",
		},
		Graph: GraphConfig{
			Database: "neo4j",
		},
		LLM: LLMConfig{
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "openai",
			LocalURL:       "http://localhost:11434",
		},
		Memory: MemoryConfig{
			ShortMemoryCapacity: 10,
			DirectivePath:       "./directive.txt",
		},
		Logging: LoggingConfig{
			Level: "info",
			Path:  "./memory.log",
		},
		Timeouts: TimeoutConfig{
			ChatSeconds:      30,
			EmbeddingSeconds: 10,
			StoreSeconds:     5,
		},
	}
}

// LoadConfig loads configuration from defaults, an optional CONFIG_FILE YAML
// overlay, and environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	loadRelationalEnv(cfg)
	loadVectorEnv(cfg)
	loadGraphEnv(cfg)
	loadLLMEnv(cfg)
	loadMemoryEnv(cfg)
	loadLoggingEnv(cfg)
}

func loadRelationalEnv(cfg *Config) {
	setString(&cfg.Relational.Backend, "RELATIONAL_BACKEND")
	setString(&cfg.Relational.EmbeddedPath, "EMBEDDED_DB_PATH")
	setString(&cfg.Relational.Host, "DB_HOST")
	setInt(&cfg.Relational.Port, "DB_PORT")
	setString(&cfg.Relational.Name, "DB_NAME")
	setString(&cfg.Relational.User, "DB_USER")
	setString(&cfg.Relational.Password, "DB_PASSWORD")
	setInt(&cfg.Relational.MaxConns, "DB_MAX_CONN")
	setInt(&cfg.Relational.IdleMS, "DB_IDLE_MS")
	setInt(&cfg.Relational.ConnTimeoutMS, "DB_CONN_TIMEOUT_MS")
}

func loadVectorEnv(cfg *Config) {
	setString(&cfg.Vector.URL, "VECTOR_URL")
	setString(&cfg.Vector.Collection, "VECTOR_COLLECTION")
}

func loadGraphEnv(cfg *Config) {
	setString(&cfg.Graph.URL, "GRAPH_URL")
	setString(&cfg.Graph.User, "GRAPH_USER")
	setString(&cfg.Graph.Password, "GRAPH_PASSWORD")
	setString(&cfg.Graph.Database, "GRAPH_DB")
}

func loadLLMEnv(cfg *Config) {
	setString(&cfg.LLM.ChatModel, "CHAT_MODEL")
	setString(&cfg.LLM.ChatAPIKey, "CHAT_API_KEY")
	setString(&cfg.LLM.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.LocalURL, "LOCAL_LLM_URL")
}

func loadMemoryEnv(cfg *Config) {
	setInt(&cfg.Memory.ShortMemoryCapacity, "SHORT_MEMORY_CAPACITY")
	setString(&cfg.Memory.DirectivePath, "DIRECTIVE_PATH")
}

func loadLoggingEnv(cfg *Config) {
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Path, "LOG_PATH")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Relational.Backend {
	case BackendEmbedded:
		if c.Relational.EmbeddedPath == "" {
			return fmt.Errorf("EMBEDDED_DB_PATH cannot be empty for the embedded backend")
		}
	case BackendNetworked:
		if c.Relational.Host == "" {
			return fmt.Errorf("DB_HOST is required for the networked backend")
		}
		if c.Relational.Port < 1 || c.Relational.Port > 65535 {
			return fmt.Errorf("invalid DB_PORT: %d", c.Relational.Port)
		}
		if c.Relational.Name == "" || c.Relational.User == "" {
			return fmt.Errorf("DB_NAME and DB_USER are required for the networked backend")
		}
	default:
		return fmt.Errorf("RELATIONAL_BACKEND must be %q or %q, got %q",
			BackendEmbedded, BackendNetworked, c.Relational.Backend)
	}

	if c.Vector.Collection == "" {
		return fmt.Errorf("VECTOR_COLLECTION cannot be empty")
	}
	if _, _, err := c.Vector.HostPort(); err != nil {
		return err
	}

	if c.LLM.ChatModel == "" {
		return fmt.Errorf("CHAT_MODEL cannot be empty")
	}
	if c.LLM.EmbeddingModel == "" {
		return fmt.Errorf("EMBEDDING_MODEL cannot be empty")
	}

	if c.Memory.ShortMemoryCapacity < 1 {
		return fmt.Errorf("SHORT_MEMORY_CAPACITY must be positive, got %d", c.Memory.ShortMemoryCapacity)
	}
	if c.Logging.Path == "" {
		return fmt.Errorf("LOG_PATH cannot be empty")
	}
	if c.Timeouts.ChatSeconds <= 0 || c.Timeouts.EmbeddingSeconds <= 0 || c.Timeouts.StoreSeconds <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
