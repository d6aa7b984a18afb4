package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/models"
)

func newGenerateCmd(g *globalFlags) *cobra.Command {
	var codeFile string

	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Generate a web project from a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var current string
			if codeFile != "" {
				data, err := os.ReadFile(codeFile)
				if err != nil {
					return err
				}
				current = string(data)
			}
			req := coordinator.Request{Prompt: strings.Join(args, " ")}
			return runOnce(cmd, g, models.SlotPrompt, current, req)
		},
	}

	cmd.Flags().StringVar(&codeFile, "code-file", "", "existing code to extend")
	return cmd
}

func newSuggestCmd(g *globalFlags, name string) *cobra.Command {
	var instruction string

	slot := models.SlotDebug
	short := "Find and fix problems in a file"
	if name == "improve" {
		slot = models.SlotImprove
		short = "Make the code in a file better"
	}

	cmd := &cobra.Command{
		Use:   name + " <file|->",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			return runOnce(cmd, g, slot, string(data), coordinator.Request{Instruction: instruction})
		},
	}

	cmd.Flags().StringVar(&instruction, "instruction", "", "replace the default instruction")
	return cmd
}

// runOnce drives a single coordinator submit; Ctrl-C cancels the call.
func runOnce(cmd *cobra.Command, g *globalFlags, slot models.Slot, document string, req coordinator.Request) error {
	cfg, log, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []coordinator.Option{
		coordinator.WithWorkspace("cli"),
		coordinator.WithLogger(log),
	}
	if rec := a.recorder(); rec != nil {
		opts = append(opts, coordinator.WithRecorder(rec))
	}
	coord := coordinator.New(a.engine, opts...)
	coord.Editor().SetCode(document)

	out, err := coord.Submit(ctx, slot, req)
	if err != nil {
		return err
	}
	switch out.Status {
	case coordinator.Rejected:
		return fmt.Errorf("request rejected: %s", out.Reason)
	case coordinator.Cancelled, coordinator.Superseded:
		return fmt.Errorf("request %s", out.Status)
	}

	stderr := cmd.ErrOrStderr()
	for _, note := range out.Notes {
		fmt.Fprintf(stderr, "note: %s\n", note)
	}
	if out.Cached {
		fmt.Fprintln(stderr, "(served from cache)")
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.Code)
	return nil
}
