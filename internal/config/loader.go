package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ListenOff disables the operations HTTP server.
const ListenOff = "off"

// ValidProviderNames lists known provider names per provider kind.
// [Validate] warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"tts": {"elevenlabs"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	environ map[string]string
}

// WithEnvironment replaces the process environment as the source of
// ECHOVOX_* overrides.
func WithEnvironment(environ map[string]string) LoadOption {
	return func(o *loadOptions) { o.environ = environ }
}

// LoadEnvFiles loads .env files into the process environment without
// overriding variables that are already set. With no paths it tries ".env"
// and ignores its absence.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("config: load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. An empty path skips the file and builds the config from the
// environment and defaults alone.
func Load(path string, opts ...LoadOption) (*Config, error) {
	if path == "" {
		return build(&Config{}, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return build(cfg, opts)
}

func build(cfg *Config, opts []LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := applyEnv(cfg, o.environ); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays ECHOVOX_* variables. A nil environ reads the process
// environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	eo := env.Options{Environment: environ}
	if err := env.ParseWithOptions(cfg, eo); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	var secrets envSecrets
	if err := env.ParseWithOptions(&secrets, eo); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	if cfg.Providers.TTS.APIKey == "" {
		cfg.Providers.TTS.APIKey = secrets.ElevenLabsAPIKey
	}
	if cfg.Providers.LLM.APIKey == "" {
		cfg.Providers.LLM.APIKey = secrets.LLMAPIKey
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}

	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLM.Name == "" {
		slog.Debug("no LLM provider configured; ;ask is disabled")
	}

	if cfg.TTS.CacheDir == "" {
		errs = append(errs, errors.New("tts.cache_dir is required"))
	}
	if cfg.TTS.MaxLength < 1 {
		errs = append(errs, fmt.Errorf("tts.max_length %d must be positive", cfg.TTS.MaxLength))
	}
	if cfg.TTS.UnitCost < 0 {
		errs = append(errs, fmt.Errorf("tts.unit_cost %g must not be negative", cfg.TTS.UnitCost))
	}
	if cfg.TTS.Stability < 0 || cfg.TTS.Stability > 1 {
		errs = append(errs, fmt.Errorf("tts.stability %.2f is out of range [0, 1]", cfg.TTS.Stability))
	}
	if cfg.TTS.SimilarityBoost < 0 || cfg.TTS.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("tts.similarity_boost %.2f is out of range [0, 1]", cfg.TTS.SimilarityBoost))
	}

	if cfg.Session.IdleStep <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_step %s must be positive", cfg.Session.IdleStep))
	}
	if cfg.Session.IdleTimeout < cfg.Session.IdleStep {
		errs = append(errs, fmt.Errorf("session.idle_timeout %s must not be shorter than idle_step %s", cfg.Session.IdleTimeout, cfg.Session.IdleStep))
	}

	if cfg.Limits.PerUserRate < 0 {
		errs = append(errs, fmt.Errorf("limits.per_user_rate %g must not be negative", cfg.Limits.PerUserRate))
	}
	if cfg.Limits.PerUserBurst < 0 {
		errs = append(errs, fmt.Errorf("limits.per_user_burst %d must not be negative", cfg.Limits.PerUserBurst))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not a known provider for
// kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
