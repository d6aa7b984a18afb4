package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/mcp"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve a kidcode workspace as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := g.setup()
			if err != nil {
				return err
			}
			defer closeLog()
			if cfg.Logging.Output == "stdout" {
				// stdout carries the protocol
				log.SetOutput(os.Stderr)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []coordinator.Option{
				coordinator.WithWorkspace("mcp"),
				coordinator.WithLogger(log),
			}
			if rec := a.recorder(); rec != nil {
				opts = append(opts, coordinator.WithRecorder(rec))
			}
			srv := mcp.New(coordinator.New(a.engine, opts...),
				mcp.WithCache(a.cache),
				mcp.WithShares(a.shares, cfg.Share.Origin),
				mcp.WithVersion(version),
				mcp.WithLogger(log),
			)
			return srv.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
