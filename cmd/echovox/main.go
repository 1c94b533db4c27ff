// Command echovox runs the echovox Discord voice bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/echovox/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "echovox: %v\n", err)
		return 1
	}
	return 0
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "echovox",
		Short: "Discord bot that speaks chat messages with synthetic voices",
		Long: "echovox joins your voice channel and reads prefixed messages aloud.\n" +
			"Start a message with \"voice:\" to pick a voice, or let the message ID pick one.",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file (empty: environment only)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before the config (default .env if present)")

	root.AddCommand(newVoicesCmd(opts), newCacheCmd(opts), newSayCmd(opts))
	return root
}

// loadConfig loads the env files and the configuration named by opts.
func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadEnvFiles(opts.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", opts.configPath)
	}
	return cfg, err
}
