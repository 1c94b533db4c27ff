// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry of the echovox bot.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText   LogFormat = "text"
	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatPretty:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":9090"
	DefaultPrefix          = ";"
	DefaultStatus          = "AI voices | ;help"
	DefaultCacheDir        = "mp3"
	DefaultMaxLength       = 420
	DefaultUnitCost        = 0.0002
	DefaultStability       = 0.35
	DefaultSimilarityBoost = 0.75
	DefaultIdleStep        = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
)

// Config is the root configuration structure. It is loaded from YAML with
// [Load] or [LoadFromReader]; ECHOVOX_* environment variables override the
// file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Providers ProvidersConfig `yaml:"providers"`
	TTS       TTSConfig       `yaml:"tts"`
	Session   SessionConfig   `yaml:"session"`
	Limits    LimitsConfig    `yaml:"limits"`
}

// ServerConfig holds the operations HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. "off" disables the
	// server.
	ListenAddr string `yaml:"listen_addr" env:"ECHOVOX_LISTEN_ADDR"`

	LogLevel  LogLevel  `yaml:"log_level" env:"ECHOVOX_LOG_LEVEL"`
	LogFormat LogFormat `yaml:"log_format" env:"ECHOVOX_LOG_FORMAT"`
}

// DiscordConfig holds the bot account and command surface settings.
type DiscordConfig struct {
	Token string `yaml:"token" env:"ECHOVOX_DISCORD_TOKEN"`

	// Prefix marks a message as a bot command. Default ";".
	Prefix string `yaml:"prefix" env:"ECHOVOX_PREFIX"`

	// AdminRoleID restricts ;leave to members holding this role. Empty
	// allows everyone.
	AdminRoleID string `yaml:"admin_role_id" env:"ECHOVOX_ADMIN_ROLE_ID"`

	// Status is the presence text set on Ready.
	Status string `yaml:"status"`
}

// ProvidersConfig selects the speech and language backends.
type ProvidersConfig struct {
	TTS ProviderEntry `yaml:"tts"`

	// LLM is optional; without it ;ask is disabled.
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`
}

// TTSConfig tunes synthesis and the clip cache.
type TTSConfig struct {
	CacheDir string `yaml:"cache_dir" env:"ECHOVOX_CACHE_DIR"`

	// MaxLength is the longest accepted text in characters.
	MaxLength int `yaml:"max_length"`

	// UnitCost is the displayed price per character in dollars.
	UnitCost float64 `yaml:"unit_cost"`

	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

// SessionConfig tunes the idle auto-leave of voice sessions.
type SessionConfig struct {
	IdleStep    time.Duration `yaml:"idle_step"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// LimitsConfig bounds how often a single user may trigger synthesis.
type LimitsConfig struct {
	// PerUserRate is the sustained number of requests per minute. Zero
	// disables limiting.
	PerUserRate float64 `yaml:"per_user_rate"`

	// PerUserBurst is the number of requests allowed at once. Default 3
	// when PerUserRate is set.
	PerUserBurst int `yaml:"per_user_burst"`
}

// envSecrets holds provider keys that are only read from the environment
// when the file leaves them empty.
type envSecrets struct {
	ElevenLabsAPIKey string `env:"ECHOVOX_ELEVENLABS_API_KEY"`
	LLMAPIKey        string `env:"ECHOVOX_LLM_API_KEY"`
}

// ApplyDefaults fills zero fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Discord.Prefix == "" {
		cfg.Discord.Prefix = DefaultPrefix
	}
	if cfg.Discord.Status == "" {
		cfg.Discord.Status = DefaultStatus
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = "elevenlabs"
	}
	if cfg.TTS.CacheDir == "" {
		cfg.TTS.CacheDir = DefaultCacheDir
	}
	if cfg.TTS.MaxLength == 0 {
		cfg.TTS.MaxLength = DefaultMaxLength
	}
	if cfg.TTS.UnitCost == 0 {
		cfg.TTS.UnitCost = DefaultUnitCost
	}
	if cfg.TTS.Stability == 0 {
		cfg.TTS.Stability = DefaultStability
	}
	if cfg.TTS.SimilarityBoost == 0 {
		cfg.TTS.SimilarityBoost = DefaultSimilarityBoost
	}
	if cfg.Session.IdleStep == 0 {
		cfg.Session.IdleStep = DefaultIdleStep
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Limits.PerUserRate > 0 && cfg.Limits.PerUserBurst == 0 {
		cfg.Limits.PerUserBurst = 3
	}
}
