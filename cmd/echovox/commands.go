package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrWong99/echovox/internal/config"
	"github.com/MrWong99/echovox/internal/ttscache"
	"github.com/MrWong99/echovox/internal/voice"
	"github.com/MrWong99/echovox/pkg/provider/tts"
)

func newVoicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices available to the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, speech, err := setupTool(opts)
			if err != nil {
				return err
			}
			catalog, err := voice.LoadCatalog(cmd.Context(), speech)
			if err != nil {
				return err
			}
			return printVoices(cmd.OutOrStdout(), catalog)
		},
	}
}

func printVoices(w io.Writer, catalog *voice.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID")
	for _, name := range catalog.Names() {
		v, _ := catalog.Lookup(name)
		fmt.Fprintf(tw, "%s\t%s\n", v.Name, v.Handle)
	}
	return tw.Flush()
}

func newCacheCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "Show what the clip cache holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cache, err := ttscache.New(cfg.TTS.CacheDir)
			if err != nil {
				return err
			}
			st, err := cache.Stats()
			if err != nil {
				return err
			}
			printCacheStats(cmd.OutOrStdout(), cache.Dir(), st)
			return nil
		},
	}
}

func printCacheStats(w io.Writer, dir string, st ttscache.Stats) {
	fmt.Fprintf(w, "directory: %s\n", dir)
	fmt.Fprintf(w, "clips:     %s\n", humanize.Comma(int64(st.Clips)))
	fmt.Fprintf(w, "size:      %s\n", humanize.Bytes(uint64(st.Bytes)))
	fmt.Fprintf(w, "spend:     $%s\n", humanize.FormatFloat("#,###.####", st.Spend))
}

func newSayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "say <message-id> <text>...",
		Short: "Synthesize a clip into the cache without Discord",
		Long: "say resolves the voice for text the same way the bot does for a message\n" +
			"with the given ID, synthesizes it and stores it in the clip cache.",
		Example: "echovox say 1234567890 rex: hello there",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, speech, err := setupTool(opts)
			if err != nil {
				return err
			}
			return say(cmd.Context(), cmd.OutOrStdout(), cfg, speech, args[0], strings.Join(args[1:], " "))
		},
	}
}

func say(ctx context.Context, w io.Writer, cfg *config.Config, speech tts.Provider, messageID, text string) error {
	catalog, err := voice.LoadCatalog(ctx, speech)
	if err != nil {
		return err
	}
	cache, err := ttscache.New(cfg.TTS.CacheDir)
	if err != nil {
		return err
	}
	b := voice.Builder{Catalog: catalog, MaxLength: cfg.TTS.MaxLength, UnitCost: cfg.TTS.UnitCost}
	req, err := b.Build(text, "cli", messageID)
	if err != nil {
		return err
	}
	v, _ := catalog.Lookup(req.Voice)

	entry, err := cache.GetOrCreate(ctx, messageID, req, func(ctx context.Context) ([]byte, error) {
		return speech.Synthesize(ctx, req.Text, v.Profile)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "voice:  %s\n", req.Voice)
	if req.Hint != "" {
		fmt.Fprintf(w, "hint:   did you mean %q?\n", req.Hint)
	}
	fmt.Fprintf(w, "clip:   %s\n", entry.Path)
	if entry.Cached {
		fmt.Fprintln(w, "cached: yes")
		return nil
	}
	fmt.Fprintf(w, "took:   %s\n", entry.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "cost:   $%.4f\n", entry.Cost)
	return nil
}

// setupTool loads the config for a one-shot subcommand and builds the speech
// provider. Logs go to stderr at warn level unless the config asks for less.
func setupTool(opts *options) (*config.Config, tts.Provider, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Server.LogLevel
	if level == config.LogInfo {
		level = config.LogWarn
	}
	logger, _ := newLogger(os.Stderr, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	speech, err := reg.CreateTTS(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, speech, nil
}
