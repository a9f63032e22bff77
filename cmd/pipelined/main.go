// Package main implements the pipelined CLI: run pipelines, validate their
// module graphs and inspect run history.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/pipelined/internal/config"
	"github.com/aristath/pipelined/internal/logging"
	"github.com/aristath/pipelined/internal/persistence"
)

var version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "pipelined",
		Short: "Resilient multi-stage pipeline runner",
		Long: `pipelined runs pipelines of dependent modules in phases, with retries,
circuit breakers and fallback chains around every module.

Configuration is read from ~/.pipelined/config.yaml and .pipelined/config.yaml,
then from PIPELINED_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "project config file (default .pipelined/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newShowCmd(opts))
	return root
}

// loadConfig reads configuration, honouring --config and --log-level.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return nil, fmt.Errorf("getting home directory: %w", herr)
		}
		cfg, err = config.Load(config.GlobalPath(home), o.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, _, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// openStore opens the run history database, or returns nil when storage
// is disabled.
func openStore(ctx context.Context, cfg *config.Config) (persistence.Store, error) {
	if cfg.Storage.Disabled {
		return nil, nil
	}
	path := cfg.Storage.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".pipelined", "history.db")
	}
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening run history %s: %w", path, err)
	}
	return store, nil
}
