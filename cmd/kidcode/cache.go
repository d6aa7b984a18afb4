package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := g.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			c, st, err := openCache(context.Background(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats := c.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Entries:      %d\nHits:         %d\nMisses:       %d\nTokens saved: %d\n",
				c.Len(), stats.Hits, stats.Misses, stats.TotalTokensSaved)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry and reset statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := g.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			c, st, err := openCache(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			c.Clear(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict expired entries and enforce the entry limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := g.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			c, st, err := openCache(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			removed := c.Cleanup(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d cache entries, %d remain.\n", removed, c.Len())
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, pruneCmd)
	return cmd
}
