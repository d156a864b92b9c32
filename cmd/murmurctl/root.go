package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"murmur/internal/bootstrap"
	"murmur/internal/config"
	"murmur/internal/logging"
)

type cliOptions struct {
	json bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "murmurctl",
		Short:         "Manage murmur dictation history and failed recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newFailedCmd(opts))
	return root
}

func loadConfig() (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, closer := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
	return cfg, logger, closer, nil
}

// withStores opens storage for the duration of fn.
func withStores(fn func(bootstrap.Stores) error) error {
	cfg, logger, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	stores, err := bootstrap.OpenStores(cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(stores)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
