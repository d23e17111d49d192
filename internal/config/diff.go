package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; everything
// else (storage, providers, listen address) requires a restart and is
// reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ConflictModeChanged bool
	NewConflictMode     ConflictMode

	NarratorTimeoutChanged bool
	NewNarratorTimeout     time.Duration

	AllowlistChanged bool

	// RestartRequired lists the sections whose changes are ignored until the
	// process restarts.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ConflictModeChanged && !d.NarratorTimeoutChanged &&
		!d.AllowlistChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Engine.ConflictMode != new.Engine.ConflictMode {
		d.ConflictModeChanged = true
		d.NewConflictMode = new.Engine.ConflictMode
	}
	if old.Narrator.Timeout != new.Narrator.Timeout {
		d.NarratorTimeoutChanged = true
		d.NewNarratorTimeout = new.Narrator.Timeout
	}
	if !slices.Equal(old.Engine.DefaultAllowlist, new.Engine.DefaultAllowlist) {
		d.AllowlistChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server.trace_sample_ratio")
	}
	if !entryEqual(old.Providers.LLM, new.Providers.LLM) || !slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, entryEqual) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Narrator.Kind != new.Narrator.Kind || old.Narrator.Temperature != new.Narrator.Temperature || old.Narrator.MaxTokens != new.Narrator.MaxTokens {
		d.RestartRequired = append(d.RestartRequired, "narrator")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Secrets != new.Secrets {
		d.RestartRequired = append(d.RestartRequired, "secrets")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}

	return d
}

// entryEqual compares provider entries ignoring Options, which are opaque.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKeyRef == b.APIKeyRef && a.BaseURL == b.BaseURL && a.Model == b.Model
}
