package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked individually; anything else
// sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RequestChanged is set when max_length or unit_cost changed.
	RequestChanged bool

	// IdleChanged is set when session.idle_step or idle_timeout changed.
	IdleChanged bool

	// LimitsChanged is set when the per-user rate limit changed.
	LimitsChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart, by their YAML path.
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RequestChanged || d.IdleChanged || d.LimitsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.TTS.MaxLength != new.TTS.MaxLength || old.TTS.UnitCost != new.TTS.UnitCost {
		d.RequestChanged = true
	}
	if old.Session != new.Session {
		d.IdleChanged = true
	}
	if old.Limits != new.Limits {
		d.LimitsChanged = true
	}

	restart := []struct {
		path    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.log_format", old.Server.LogFormat != new.Server.LogFormat},
		{"discord.token", old.Discord.Token != new.Discord.Token},
		{"discord.prefix", old.Discord.Prefix != new.Discord.Prefix},
		{"discord.admin_role_id", old.Discord.AdminRoleID != new.Discord.AdminRoleID},
		{"discord.status", old.Discord.Status != new.Discord.Status},
		{"providers.tts", !sameEntry(old.Providers.TTS, new.Providers.TTS)},
		{"providers.llm", !sameEntry(old.Providers.LLM, new.Providers.LLM)},
		{"tts.cache_dir", old.TTS.CacheDir != new.TTS.CacheDir},
		{"tts.stability", old.TTS.Stability != new.TTS.Stability},
		{"tts.similarity_boost", old.TTS.SimilarityBoost != new.TTS.SimilarityBoost},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.path)
		}
	}

	return d
}

// sameEntry compares the scalar fields of two provider entries. Options are
// not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
