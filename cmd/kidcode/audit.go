package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kidcode-ai/kidcode/pkg/audit"
	"github.com/kidcode-ai/kidcode/pkg/models"
)

func newAuditCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the generation log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(g),
		newAuditStatsCmd(g),
		newAuditCleanupCmd(g),
	)
	return cmd
}

func newAuditSearchCmd(g *globalFlags) *cobra.Command {
	var (
		workspace string
		slot      string
		status    string
		since     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search generation log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.AuditQueryOpts{
				Workspace: workspace,
				Status:    status,
				Limit:     limit,
			}
			if slot != "" {
				s, err := models.ParseSlot(slot)
				if err != nil {
					return err
				}
				opts.Slot = s
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			l, cleanup, err := openAuditLog(g)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatRecords(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "filter by workspace")
	cmd.Flags().StringVar(&slot, "slot", "", "filter by slot (prompt, debug, improve)")
	cmd.Flags().StringVar(&status, "status", "", "filter by outcome status")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func newAuditStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show outcome counts by slot, status and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLog(g)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLog(g)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d generation log entries.\n", deleted)
			return nil
		},
	}
}

// openAuditLog opens the generation log even when audit.enabled is false so
// an existing database can still be inspected.
func openAuditLog(g *globalFlags) (*audit.Logger, func(), error) {
	cfg, log, closeLog, err := g.setup()
	if err != nil {
		return nil, nil, err
	}
	l, err := audit.New(cfg.Audit, log)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() {
		_ = l.Close()
		closeLog()
	}, nil
}

func formatRecords(records []models.GenerationRecord) string {
	if len(records) == 0 {
		return "No generation log entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-12s %-8s %-11s %-10s %6s %8s %8s %-20s\n",
		"REQUEST ID", "WORKSPACE", "SLOT", "PROVIDER", "STATUS", "CACHED", "LATENCY", "TOKENS", "TIME")
	b.WriteString(strings.Repeat("-", 130) + "\n")
	for _, r := range records {
		cached := "no"
		if r.Cached {
			cached = "yes"
		}
		fmt.Fprintf(&b, "%-38s %-12s %-8s %-11s %-10s %6s %6dms %8d %-20s\n",
			r.RequestID, r.Workspace, r.Slot, r.Provider, r.Status, cached,
			r.LatencyMs, r.Tokens, r.CreatedAt.Format("2006-01-02 15:04:05"))
		if r.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", r.Error)
		}
	}
	return b.String()
}

func formatStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No generation log stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-12s %-12s %8s\n", "SLOT", "STATUS", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 45) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-10s %-12s %-12s %8d\n", s.Slot, s.Status, s.Day, s.Count)
	}
	return b.String()
}
