package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/config"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/mcp"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/poll"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start Model Context Protocol (MCP) server",
	Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This allows AI agents (e.g., Claude Desktop, Cursor) to query what the
host's coding sessions are doing right now.

The observation poll loop runs in-process; no serve instance is needed.
Communication happens over standard input/output (stdio).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := config.Load(nil)
		backend, st := buildPipeline(cfg)

		interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
		poller := poll.New(backend, st, nil, interval, nil)
		go func() { _ = poller.Run(ctx) }()

		srv := mcp.NewServer(st, version)
		return srv.Start(ctx)
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
}
