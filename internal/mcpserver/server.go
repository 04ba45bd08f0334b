// Package mcpserver exposes issue processing and results browsing as MCP
// tools over the stdio transport, so agent hosts can drive runs directly.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Processor runs one issue through the pipeline. Implemented by the engine
// layer; faked in tests.
type Processor interface {
	Process(ctx context.Context, issue run.Issue) (*run.Context, error)
}

// Server is the MCP surface.
type Server struct {
	mcp       *mcp.Server
	processor Processor
	store     *artifact.Store
	log       *logging.Logger
}

// Config configures the MCP server identity.
type Config struct {
	Name    string
	Version string
}

// NewServer builds the server and registers its tools.
func NewServer(cfg Config, processor Processor, store *artifact.Store, log *logging.Logger) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.Name == "" {
		cfg.Name = "patchsmith"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		processor: processor,
		store:     store,
		log:       log,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info(ctx, "starting mcp server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server failed: %w", err)
	}
	return nil
}
