// Package mcp exposes the memory pipeline as a Model Context Protocol tool
// server.
package mcp

import (
	"context"
	"os"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/server"

	"tiered-mcp-memory/internal/jobs"
	"tiered-mcp-memory/internal/llm"
	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/memory"
	"tiered-mcp-memory/internal/storage/relational"
)

const (
	serverName    = "tiered-mcp-memory"
	serverVersion = "1.0.0"
)

// Deps are the wired components the server dispatches into.
type Deps struct {
	Pipeline      *memory.Pipeline
	Relational    relational.MemoryStore
	Jobs          *jobs.Manager
	Chat          llm.ChatClient
	Embedder      llm.EmbeddingClient
	LogSink       *logging.FileSink
	DirectivePath string
}

// MemoryServer owns the MCP server and the tool handlers.
type MemoryServer struct {
	mcpServer *server.Server
	deps      Deps
	logger    logging.Logger
}

// NewMemoryServer builds the server and registers every tool.
func NewMemoryServer(deps Deps) *MemoryServer {
	ms := &MemoryServer{
		mcpServer: mcp.NewServer(serverName, serverVersion),
		deps:      deps,
		logger:    logging.WithComponent("mcp"),
	}
	ms.registerTools()
	return ms
}

// GetMCPServer exposes the underlying protocol server for transport setup.
func (ms *MemoryServer) GetMCPServer() *server.Server {
	return ms.mcpServer
}

// Close releases owned resources.
func (ms *MemoryServer) Close() error {
	if ms.deps.Jobs != nil {
		ms.deps.Jobs.Close()
	}
	return ms.deps.Relational.Close()
}

// readDirective returns the directive file contents verbatim.
func (ms *MemoryServer) readDirective() (string, error) {
	data, err := os.ReadFile(ms.deps.DirectivePath) // #nosec G304 -- operator-supplied path
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// traceCtx tags the request context with a fresh trace id.
func traceCtx(ctx context.Context) context.Context {
	return logging.WithTrace(ctx, "")
}
