// Package secrets resolves API key references into key material.
//
// A [Provider] is constructed once at startup and handed explicitly to the
// components that need credentials (the LLM backends behind the narrator).
// There is no package-level key cache: each provider instance owns the keys
// it loaded and callers decide its lifetime.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrSecretNotFound is returned when a reference cannot be resolved.
var ErrSecretNotFound = errors.New("secrets: secret not found")

// Provider resolves a named secret reference to its value.
type Provider interface {
	Lookup(ref string) (string, error)
}

// Resolve is a convenience for optional references: an empty ref resolves to
// the empty string without consulting p.
func Resolve(p Provider, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if p == nil {
		return "", fmt.Errorf("%w: %q (no secrets provider configured)", ErrSecretNotFound, ref)
	}
	return p.Lookup(ref)
}

// ── Env ──────────────────────────────────────────────────────────────────────

// Env resolves references from environment variables. The reference is
// upper-cased, '-' and '.' become '_', and the prefix is prepended:
// ref "openai" with prefix "ARBITER_" reads ARBITER_OPENAI.
type Env struct {
	prefix string
	lookup func(string) (string, bool)
}

var _ Provider = (*Env)(nil)

// NewEnv returns an environment-backed provider.
func NewEnv(prefix string) *Env {
	return &Env{prefix: prefix, lookup: os.LookupEnv}
}

// VarName returns the environment variable consulted for ref.
func (e *Env) VarName(ref string) string {
	name := strings.ToUpper(ref)
	name = strings.NewReplacer("-", "_", ".", "_").Replace(name)
	return e.prefix + name
}

// Lookup implements [Provider].
func (e *Env) Lookup(ref string) (string, error) {
	v, ok := e.lookup(e.VarName(ref))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %q (env %s)", ErrSecretNotFound, ref, e.VarName(ref))
	}
	return v, nil
}

// ── File ─────────────────────────────────────────────────────────────────────

// File resolves references from a YAML secrets file. Two layouts are
// accepted:
//
//	providers:
//	  openai: {api_key: sk-...}
//
// or a flat mapping of reference to key:
//
//	openai: sk-...
type File struct {
	mu   sync.RWMutex
	keys map[string]string
}

var _ Provider = (*File)(nil)

type fileLayout struct {
	Providers map[string]struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"providers"`
}

// NewFile loads and validates the secrets file at path.
func NewFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %q: %w", path, err)
	}
	keys, err := parseFile(data)
	if err != nil {
		return nil, fmt.Errorf("secrets: parse %q: %w", path, err)
	}
	return &File{keys: keys}, nil
}

func parseFile(data []byte) (map[string]string, error) {
	var nested fileLayout
	if err := yaml.Unmarshal(data, &nested); err == nil && len(nested.Providers) > 0 {
		keys := make(map[string]string, len(nested.Providers))
		var errs []error
		for name, entry := range nested.Providers {
			if name == "" || entry.APIKey == "" {
				errs = append(errs, fmt.Errorf("providers.%s.api_key is empty", name))
				continue
			}
			keys[name] = entry.APIKey
		}
		return keys, errors.Join(errs...)
	}

	var flat map[string]string
	if err := yaml.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("payload must be a providers map or a flat name: key map: %w", err)
	}
	var errs []error
	for name, key := range flat {
		if key == "" {
			errs = append(errs, fmt.Errorf("%s is empty", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return flat, nil
}

// Lookup implements [Provider].
func (f *File) Lookup(ref string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.keys[ref]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, ref)
	}
	return v, nil
}

// Refs returns the number of loaded references.
func (f *File) Refs() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.keys)
}

// ── Static ───────────────────────────────────────────────────────────────────

// Static is an in-memory provider, mainly for tests.
type Static map[string]string

var _ Provider = Static(nil)

// Lookup implements [Provider].
func (s Static) Lookup(ref string) (string, error) {
	v, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, ref)
	}
	return v, nil
}
