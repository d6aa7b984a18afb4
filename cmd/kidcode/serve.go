package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kidcode-ai/kidcode/pkg/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kidcode HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := g.setup()
			if err != nil {
				return err
			}
			defer closeLog()
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg, a.engine, a.cache, a.shares, a.recorder(), log)
			log.WithField("config", g.configPath).Info("starting kidcode server")
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
