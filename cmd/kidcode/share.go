package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/kidcode-ai/kidcode/pkg/share"
)

func newShareCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Create and open share links",
	}

	var language string
	createCmd := &cobra.Command{
		Use:   "create <file|->",
		Short: "Share a file and print its link",
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
			if len(data) == 0 {
				return errors.New("there is no code to share")
			}

			cfg, _, closeLog, err := g.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			st, err := share.Open(ctx, cfg.Share, http.DefaultClient)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			snip, err := st.Create(ctx, string(data), language)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), share.URL(cfg.Share.Origin, snip.ID))
			return nil
		},
	}
	createCmd.Flags().StringVar(&language, "language", "html", "language of the shared code")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the code behind a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closeLog, err := g.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := context.Background()
			st, err := share.Open(ctx, cfg.Share, http.DefaultClient)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			snip, err := st.Get(ctx, args[0])
			if errors.Is(err, share.ErrNotFound) {
				return fmt.Errorf("no shared project with id %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), snip.Code)
			return nil
		},
	}

	cmd.AddCommand(createCmd, getCmd)
	return cmd
}
