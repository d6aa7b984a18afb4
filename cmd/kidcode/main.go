package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kidcode-ai/kidcode/pkg/config"
	"github.com/kidcode-ai/kidcode/pkg/logging"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "kidcode",
		Short:         "kidcode: a friendly AI coding buddy for young programmers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "kidcode.yaml", "path to config file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newServeCmd(g),
		newGenerateCmd(g),
		newSuggestCmd(g, "debug"),
		newSuggestCmd(g, "improve"),
		newCacheCmd(g),
		newShareCmd(g),
		newAuditCmd(g),
		newMCPCmd(g),
	)
	return root
}

// load reads the dotenv file and config, then validates the result.
func (g *globalFlags) load() (*config.Config, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setup loads the config and builds the logger. The returned func closes
// the log output.
func (g *globalFlags) setup() (*config.Config, *logrus.Logger, func(), error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, func() { _ = closer.Close() }, nil
}
