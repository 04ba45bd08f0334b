package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patchsmith/internal/events"
	"github.com/fyrsmithlabs/patchsmith/internal/mcpserver"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve pipeline operations as MCP tools over stdio",
	Long: `MCP exposes process_issue, list_runs, get_run, and read_artifact as
Model Context Protocol tools on stdin/stdout, for use as an agent
collaborator. Logs go to stderr; stdout carries only the protocol.`,
	Args: noArgs,
	RunE: runMCP,
}

// engineProcessor builds a fresh engine per processed issue so MCP calls
// are isolated the same way benchmark runs are.
type engineProcessor struct {
	rt  *runtime
	bus *events.Bus
}

func (p *engineProcessor) Process(ctx context.Context, issue run.Issue) (*run.Context, error) {
	roster, err := buildRoster(p.rt.cfg)
	if err != nil {
		return nil, err
	}
	e, err := buildEngine(p.rt, roster, p.bus, nil)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, issue)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, "")
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	bus, err := connectBus(rt.cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	srv, err := mcpserver.NewServer(
		mcpserver.Config{Name: "patchsmith", Version: version},
		&engineProcessor{rt: rt, bus: bus},
		rt.store,
		rt.log,
	)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
