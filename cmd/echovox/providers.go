package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/echovox/internal/config"
	"github.com/MrWong99/echovox/pkg/provider/llm"
	"github.com/MrWong99/echovox/pkg/provider/llm/anyllm"
	"github.com/MrWong99/echovox/pkg/provider/tts"
	"github.com/MrWong99/echovox/pkg/provider/tts/elevenlabs"
)

// registerBuiltinProviders wires the shipped provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range anyllm.Backends() {
		if providerName == "ollama" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry, settings config.TTSConfig) (tts.Provider, error) {
		opts := []elevenlabs.Option{
			elevenlabs.WithVoiceSettings(tts.VoiceSettings{
				Stability:       settings.Stability,
				SimilarityBoost: settings.SimilarityBoost,
			}),
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	slog.Debug("registered providers", "tts", []string{"elevenlabs"}, "llm", anyllm.Backends())
}

// buildProviders creates the speech provider and, when configured, the
// language model.
func buildProviders(cfg *config.Config, reg *config.Registry) (tts.Provider, llm.Provider, error) {
	speech, err := reg.CreateTTS(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	lm, err := reg.CreateLLM(cfg.Providers.LLM)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("unknown llm provider, ;ask is disabled", "name", cfg.Providers.LLM.Name)
		return speech, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	case lm != nil:
		slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	}
	return speech, lm, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
