package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidLLMNames lists the LLM provider names that ship with Arbiter.
// Used by [Validate] to warn about unrecognised provider names.
var ValidLLMNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TraceSampleRatio < 0 || cfg.Server.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %g must be within [0, 1]", cfg.Server.TraceSampleRatio))
	}

	// Narrator
	if cfg.Narrator.Kind != "" && !cfg.Narrator.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("narrator.kind %q is invalid; valid values: llm, echo", cfg.Narrator.Kind))
	}
	if cfg.Narrator.Kind == NarratorLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("narrator.kind is llm but providers.llm is not configured"))
	}
	if cfg.Narrator.Timeout < 0 {
		errs = append(errs, fmt.Errorf("narrator.timeout %s must be positive", cfg.Narrator.Timeout))
	}
	if cfg.Narrator.Temperature < 0 || cfg.Narrator.Temperature > 2 {
		errs = append(errs, fmt.Errorf("narrator.temperature %.2f is out of range [0, 2]", cfg.Narrator.Temperature))
	}
	if cfg.Narrator.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("narrator.max_tokens %d must not be negative", cfg.Narrator.MaxTokens))
	}

	// Providers
	errs = append(errs, validateEntry("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = append(errs, validateEntry(prefix, fb)...)
	}

	// Engine
	if cfg.Engine.ConflictMode != "" && !cfg.Engine.ConflictMode.IsValid() {
		errs = append(errs, fmt.Errorf("engine.conflict_mode %q is invalid; valid values: state_diff, text_heuristic", cfg.Engine.ConflictMode))
	}
	seen := make(map[string]int, len(cfg.Engine.DefaultAllowlist))
	for i, tool := range cfg.Engine.DefaultAllowlist {
		if strings.TrimSpace(tool) == "" {
			errs = append(errs, fmt.Errorf("engine.default_allowlist[%d] is empty", i))
			continue
		}
		if prev, ok := seen[tool]; ok {
			errs = append(errs, fmt.Errorf("engine.default_allowlist[%d] %q is a duplicate of [%d]", i, tool, prev))
		}
		seen[tool] = i
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}

	// Secrets
	if cfg.Secrets.Backend != "" && !cfg.Secrets.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("secrets.backend %q is invalid; valid values: env, file", cfg.Secrets.Backend))
	}
	if cfg.Secrets.Backend == SecretsFile && cfg.Secrets.File == "" {
		errs = append(errs, errors.New("secrets.file is required when secrets.backend is file"))
	}

	// MCP
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateEntry checks a single provider entry and warns about unknown names.
func validateEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		return nil
	}
	if !slices.Contains(ValidLLMNames, e.Name) {
		slog.Warn("unknown provider name, possibly a typo or a third-party provider",
			"field", prefix,
			"name", e.Name,
			"known", ValidLLMNames,
		)
	}
	if _, ok := e.Options["api_key"]; ok {
		errs = append(errs, fmt.Errorf("%s.options must not contain api_key; use api_key_ref", prefix))
	}
	return errs
}
