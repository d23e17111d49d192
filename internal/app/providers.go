package app

import (
	"fmt"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/arbiter/internal/config"
	"github.com/MrWong99/arbiter/internal/secrets"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
	"github.com/MrWong99/arbiter/pkg/provider/llm/anyllm"
	"github.com/MrWong99/arbiter/pkg/provider/llm/openai"
)

// BuiltinLLMs lists the LLM provider names registered by [BuiltinRegistry].
var BuiltinLLMs = []string{
	"openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// BuiltinRegistry returns a registry with every built-in LLM factory.
func BuiltinRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)
	return reg
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// openai talks to the official SDK so organization and timeout options
	// are honoured.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry, sp secrets.Provider) (llm.Provider, error) {
		key, err := secrets.Resolve(sp, entry.APIKeyRef)
		if err != nil {
			return nil, err
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if raw := optString(entry.Options, "timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("openai: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(key, entry.Model, opts...)
	})

	// The remaining hosted backends share the same shape: optional API key
	// plus optional base URL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry, sp secrets.Provider) (llm.Provider, error) {
			key, err := secrets.Resolve(sp, entry.APIKeyRef)
			if err != nil {
				return nil, err
			}
			var opts []anyllmlib.Option
			if key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry, _ secrets.Provider) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// optString extracts a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
