package mcp

import (
	"fmt"
	"strings"

	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/models"
)

// formatOutcome renders a completed operation: notes first, then the code.
func formatOutcome(out *coordinator.Outcome) string {
	var b strings.Builder
	for _, note := range out.Notes {
		fmt.Fprintf(&b, "- %s\n", note)
	}
	if out.Cached {
		b.WriteString("(served from cache)\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(out.Code)
	return b.String()
}

func formatSession(messages []models.Message, code string) string {
	var b strings.Builder
	if len(messages) == 0 {
		b.WriteString("No messages yet.\n")
	}
	for _, m := range messages {
		fmt.Fprintf(&b, "%-9s %s\n", m.Role+":", m.Content)
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")
	if code == "" {
		b.WriteString("The editor is empty.")
	} else {
		b.WriteString(code)
	}
	return b.String()
}

func formatCacheStats(stats models.CacheStats, entries int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %d\n", "Entries:", entries)
	fmt.Fprintf(&b, "%-15s %d\n", "Hits:", stats.Hits)
	fmt.Fprintf(&b, "%-15s %d\n", "Misses:", stats.Misses)
	total := stats.Hits + stats.Misses
	if total > 0 {
		fmt.Fprintf(&b, "%-15s %.1f%%\n", "Hit rate:", float64(stats.Hits)/float64(total)*100)
	} else {
		fmt.Fprintf(&b, "%-15s N/A\n", "Hit rate:")
	}
	fmt.Fprintf(&b, "%-15s %d\n", "Tokens saved:", stats.TotalTokensSaved)
	return b.String()
}
