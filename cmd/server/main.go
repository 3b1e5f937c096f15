// server is the tiered memory MCP binary. It speaks the MCP protocol over
// stdio for direct client use, or over HTTP for proxied deployments.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fredcamaral/gomcp-sdk/protocol"
	"github.com/fredcamaral/gomcp-sdk/server"
	"github.com/fredcamaral/gomcp-sdk/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tiered-mcp-memory/internal/analysis"
	"tiered-mcp-memory/internal/config"
	"tiered-mcp-memory/internal/jobs"
	"tiered-mcp-memory/internal/llm"
	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/mcp"
	"tiered-mcp-memory/internal/memory"
	"tiered-mcp-memory/internal/rerank"
	"tiered-mcp-memory/internal/storage/graph"
	"tiered-mcp-memory/internal/storage/relational"
	"tiered-mcp-memory/internal/storage/vector"
)

func main() {
	var (
		mode = flag.String("mode", "stdio", "Server mode: stdio or http")
		addr = flag.String("addr", ":9080", "HTTP server address (when mode=http)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	sink, err := logging.NewFileSink(cfg.Logging.Path)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	logging.SetDefaultLogger(logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), sink))
	logger := logging.WithComponent("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	memoryServer, err := buildServer(ctx, cfg, sink)
	if err != nil {
		log.Fatalf("Failed to build memory server: %v", err)
	}

	mcpServer := memoryServer.GetMCPServer()

	switch *mode {
	case "stdio":
		logger.Info("Starting memory server in stdio mode")
		stdioTransport := transport.NewStdioTransport()
		mcpServer.SetTransport(stdioTransport)
		if err := mcpServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP server failed", "error", err)
		}

	case "http":
		logger.Info("Starting memory server in HTTP mode", "addr", *addr)
		if err := runHTTPServer(ctx, mcpServer, *addr); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("HTTP server failed", "error", err)
		}

	default:
		log.Fatalf("Invalid mode: %s. Use 'stdio' or 'http'", *mode)
	}

	if err := memoryServer.Close(); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}
	_ = sink.Close()
}

// buildServer wires the stores, providers, and pipeline into a MemoryServer.
func buildServer(ctx context.Context, cfg *config.Config, sink *logging.FileSink) (*mcp.MemoryServer, error) {
	logger := logging.WithComponent("main")

	var (
		rel relational.MemoryStore
		err error
	)
	switch cfg.Relational.Backend {
	case config.BackendNetworked:
		rel, err = relational.NewPostgresStore(ctx, cfg.Relational.DSN(),
			cfg.Relational.MaxConns,
			time.Duration(cfg.Relational.IdleMS)*time.Millisecond,
			cfg.Memory.ShortMemoryCapacity)
	default:
		rel, err = relational.NewSQLiteStore(ctx, cfg.Relational.EmbeddedPath, cfg.Memory.ShortMemoryCapacity)
	}
	if err != nil {
		return nil, fmt.Errorf("relational store: %w", err)
	}

	chat := llm.NewChatClient(&cfg.LLM)
	embedder := llm.NewEmbeddingClient(&cfg.LLM)

	host, port, err := cfg.Vector.HostPort()
	if err != nil {
		return nil, err
	}
	vec := vector.NewQdrantStore(host, port, cfg.Vector.Collection, embedder.Dimension())
	if err := vec.Initialize(ctx); err != nil {
		// Searches degrade to relational_only until the collection is back.
		logger.Warn("Vector store unavailable", "error", err)
	}

	var graphStore graph.Store
	if cfg.Graph.Enabled() {
		g, err := graph.NewNeo4jStore(ctx, cfg.Graph.URL, cfg.Graph.User, cfg.Graph.Password, cfg.Graph.Database)
		if err != nil {
			logger.Warn("Graph store unavailable, continuing without it", "error", err)
		} else {
			graphStore = g
		}
	}

	analyzer := analysis.NewChatAnalyzer(chat)
	pipeline := memory.New(rel, vec, graphStore, analyzer, embedder, rerank.New(embedder), memory.Timeouts{
		Chat:      time.Duration(cfg.Timeouts.ChatSeconds) * time.Second,
		Embedding: time.Duration(cfg.Timeouts.EmbeddingSeconds) * time.Second,
		Store:     time.Duration(cfg.Timeouts.StoreSeconds) * time.Second,
	})
	manager := jobs.NewManager(rel, analyzer)

	return mcp.NewMemoryServer(mcp.Deps{
		Pipeline:      pipeline,
		Relational:    rel,
		Jobs:          manager,
		Chat:          chat,
		Embedder:      embedder,
		LogSink:       sink,
		DirectivePath: cfg.Memory.DirectivePath,
	}), nil
}

// runHTTPServer serves the MCP protocol over plain JSON-RPC POSTs.
func runHTTPServer(ctx context.Context, mcpServer *server.Server, addr string) error {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/mcp", func(w http.ResponseWriter, req *http.Request) {
		var rpcReq protocol.JSONRPCRequest
		if err := json.NewDecoder(req.Body).Decode(&rpcReq); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		resp := mcpServer.HandleRequest(req.Context(), &rpcReq)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logging.Error("Failed to encode response", "error", err)
		}
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"healthy","server":"tiered-mcp-memory"}`)
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logging.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()

	// The parent context is already cancelled; shutdown needs its own.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx) //nolint:contextcheck
}
