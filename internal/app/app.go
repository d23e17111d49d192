// Package app wires all Arbiter subsystems into a running server.
//
// New builds the store, narrator chain and turn service from the config,
// Run serves HTTP until the context is cancelled, and Shutdown releases
// everything New acquired. Tests inject doubles through the functional
// options (WithStore, WithNarrator, ...); anything not injected is built from
// the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/arbiter/internal/api"
	"github.com/MrWong99/arbiter/internal/config"
	"github.com/MrWong99/arbiter/internal/conflict"
	"github.com/MrWong99/arbiter/internal/health"
	"github.com/MrWong99/arbiter/internal/mcpserver"
	"github.com/MrWong99/arbiter/internal/narrator"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/resilience"
	"github.com/MrWong99/arbiter/internal/secrets"
	"github.com/MrWong99/arbiter/internal/store"
	"github.com/MrWong99/arbiter/internal/turn"
)

// Version is reported to MCP clients and telemetry.
const Version = "0.1.0"

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	secrets  secrets.Provider
	metrics  *observe.Metrics
	level    *slog.LevelVar

	store    store.Store
	narrator narrator.Narrator
	fallback *resilience.LLMFallback
	svc      *turn.Service
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a campaign store instead of building one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNarrator injects a narrator instead of building one from config.
func WithNarrator(n narrator.Narrator) Option {
	return func(a *App) { a.narrator = n }
}

// WithRegistry sets the LLM provider registry. Defaults to
// [BuiltinRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithSecrets sets the secrets provider used to resolve API key refs.
// Defaults to the backend named in the config.
func WithSecrets(p secrets.Provider) Option {
	return func(a *App) { a.secrets = p }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable behind the default logger so
// config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = BuiltinRegistry()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Narrator ──────────────────────────────────────────────────────
	if err := a.initNarrator(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init narrator: %w", err)
	}

	// ── 3. Turn service ──────────────────────────────────────────────────
	detector, err := conflict.New(conflict.Mode(cfg.Engine.ConflictMode))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.svc = turn.NewService(a.store, a.narrator,
		turn.WithDetector(detector),
		turn.WithNarratorTimeout(cfg.Narrator.Timeout),
		turn.WithDefaultAllowlist(cfg.Engine.DefaultAllowlist),
		turn.WithMetrics(a.metrics),
	)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.buildHandler()

	slog.Info("app initialised",
		"storage", cfg.Storage.Backend,
		"narrator", cfg.Narrator.Kind,
		"conflict_mode", detector.Mode(),
		"mcp", cfg.MCP.Enabled,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		ps := store.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			return err
		}
		a.store = ps
	default:
		fs, err := store.NewFileStore(a.cfg.Storage.Dir)
		if err != nil {
			return err
		}
		a.store = fs
	}
	return nil
}

func (a *App) initNarrator() error {
	if a.narrator != nil {
		return nil
	}
	if a.cfg.Narrator.Kind == config.NarratorEcho {
		a.narrator = narrator.Echo{}
		return nil
	}

	if a.secrets == nil {
		sp, err := newSecrets(a.cfg.Secrets)
		if err != nil {
			return err
		}
		a.secrets = sp
	}

	fb, err := a.buildLLMChain()
	if err != nil {
		return err
	}
	a.fallback = fb
	a.narrator = narrator.NewLLM(fb,
		narrator.WithTemperature(a.cfg.Narrator.Temperature),
		narrator.WithMaxTokens(a.cfg.Narrator.MaxTokens),
		narrator.WithProviderName(a.cfg.Providers.LLM.Name),
		narrator.WithMetrics(a.metrics),
	)
	return nil
}

// buildLLMChain creates the primary LLM and its fallbacks behind per-backend
// circuit breakers.
func (a *App) buildLLMChain() (*resilience.LLMFallback, error) {
	primary, err := a.registry.CreateLLM(a.cfg.Providers.LLM, a.secrets)
	if err != nil {
		return nil, fmt.Errorf("create llm %q: %w", a.cfg.Providers.LLM.Name, err)
	}
	fb := resilience.NewLLMFallback(primary, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{
		OnFailure: func(ctx context.Context, name string, err error) {
			kind := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				kind = "timeout"
			}
			a.metrics.RecordProviderError(ctx, name, kind)
		},
	})
	slog.Info("provider created", "kind", "llm", "name", a.cfg.Providers.LLM.Name, "model", a.cfg.Providers.LLM.Model)

	for i, entry := range a.cfg.Providers.LLMFallbacks {
		p, err := a.registry.CreateLLM(entry, a.secrets)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d (%q): %w", i, entry.Name, err)
		}
		fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
		slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

func newSecrets(cfg config.SecretsConfig) (secrets.Provider, error) {
	if cfg.Backend == config.SecretsFile {
		f, err := secrets.NewFile(cfg.File)
		if err != nil {
			return nil, err
		}
		slog.Info("secrets loaded", "backend", cfg.Backend, "refs", f.Refs())
		return f, nil
	}
	return secrets.NewEnv(cfg.EnvPrefix), nil
}

func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	api.New(a.svc).Register(mux)

	checkers := []health.Checker{health.Ping("store", a.store)}
	if a.fallback != nil {
		checkers = append(checkers, health.Checker{Name: "narrator", Check: a.fallback.Check})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	if a.cfg.MCP.Enabled {
		mux.Handle(a.cfg.MCP.Path, mcpserver.Handler(mcpserver.New(a.svc, Version)))
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the turn service.
func (a *App) Service() *turn.Service { return a.svc }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the runtime-changeable parts of next. It is meant as
// the [config.Watcher] callback. Changes that need a restart are logged and
// otherwise ignored.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ConflictModeChanged {
		detector, err := conflict.New(conflict.Mode(d.NewConflictMode))
		if err != nil {
			slog.Warn("conflict mode not applied", "mode", d.NewConflictMode, "err", err)
		} else {
			a.svc.SetDetector(detector)
			slog.Info("conflict mode changed", "mode", detector.Mode())
		}
	}
	if d.NarratorTimeoutChanged {
		a.svc.SetNarratorTimeout(d.NewNarratorTimeout)
		slog.Info("narrator timeout changed", "timeout", a.svc.NarratorTimeout())
	}
	if d.AllowlistChanged {
		a.svc.SetDefaultAllowlist(next.Engine.DefaultAllowlist)
		slog.Info("default allowlist changed", "tools", a.svc.DefaultAllowlist())
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains in-flight requests. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases everything New acquired. Closers still pending when ctx
// expires are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
