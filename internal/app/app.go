// Package app wires all intervue subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and prunes idle sessions until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSink, WithMetrics,
// WithListener). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intervue/internal/analysis"
	"github.com/MrWong99/intervue/internal/api"
	"github.com/MrWong99/intervue/internal/config"
	"github.com/MrWong99/intervue/internal/health"
	"github.com/MrWong99/intervue/internal/observe"
	"github.com/MrWong99/intervue/internal/relay"
	"github.com/MrWong99/intervue/internal/resilience"
	"github.com/MrWong99/intervue/internal/session"
	"github.com/MrWong99/intervue/internal/transcript"
	"github.com/MrWong99/intervue/pkg/provider/llm"
)

// shutdownTimeout bounds the graceful HTTP shutdown triggered by Run.
const shutdownTimeout = 10 * time.Second

// Providers holds the model backends built from the config registry. A nil
// LLM means no backend is configured and every analysis uses the contract's
// example fallback.
type Providers struct {
	LLM      llm.Provider
	LLMName  string
	Fallback llm.Provider
	// FallbackName labels Fallback in logs and metrics.
	FallbackName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	metrics        *observe.Metrics
	metricsHandler http.Handler
	sink           transcript.Sink
	model          *resilience.LLMFallback
	contract       analysis.Contract
	sessions       *session.Manager
	relay          *relay.Relay
	handler        http.Handler
	server         *http.Server
	listener       net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects a transcript sink instead of opening the configured file
// and database. The App closes it on Shutdown.
func WithSink(s transcript.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics, usually [observe.Telemetry.Handler].
// Without it /metrics is not mounted.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithListener makes Run serve on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil {
		providers = &Providers{}
	}

	contract, err := analysis.ContractByName(cfg.Analysis.Contract)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.contract = contract

	// ── 1. Transcript sinks ──────────────────────────────────────────────
	if err := a.initSink(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transcripts: %w", err)
	}

	// ── 2. Model failover chain ──────────────────────────────────────────
	a.initModel(providers)

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = session.NewManager(a.newSession, a.metrics)

	// ── 4. Relay ─────────────────────────────────────────────────────────
	a.relay = relay.New(a.sink,
		relay.WithReadLimit(cfg.Relay.ReadLimit),
		relay.WithOriginPatterns(cfg.Relay.OriginPatterns),
		relay.WithMetrics(a.metrics),
	)

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.handler = a.buildHandler()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("application initialised",
		"contract", a.contract.Name,
		"model", a.modelName(),
		"window", cfg.Analysis.Window,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSink opens the transcript file and, when configured, the PostgreSQL
// store, unless a sink was injected.
func (a *App) initSink(ctx context.Context) error {
	if a.sink != nil {
		a.closers = append(a.closers, a.sink.Close)
		return nil
	}

	file, err := transcript.OpenFile(a.cfg.Transcripts.File)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, file.Close)
	sinks := transcript.MultiSink{file}
	slog.Info("recording transcripts", "file", file.Path())

	if dsn := a.cfg.Transcripts.PostgresDSN; dsn != "" {
		pg, err := transcript.NewPostgresSink(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		sinks = append(sinks, pg)
		slog.Info("recording transcripts to postgres")
	}

	if len(sinks) == 1 {
		a.sink = file
	} else {
		a.sink = sinks
	}
	return nil
}

// initModel puts the configured backends behind per-backend circuit
// breakers.
func (a *App) initModel(p *Providers) {
	if p.LLM == nil {
		slog.Warn("no model provider available; every analysis will use the example fallback")
		return
	}
	a.model = resilience.NewLLMFallback(p.LLM, p.LLMName, resilience.FallbackConfig{Metrics: a.metrics})
	if p.Fallback != nil {
		a.model.AddFallback(p.FallbackName, p.Fallback)
	}
}

// newSession is the [session.Factory] for the configured contract and model.
func (a *App) newSession(id string) *analysis.Session {
	opts := []analysis.Option{
		analysis.WithContract(a.contract),
		analysis.WithWindow(a.cfg.Analysis.Window),
		analysis.WithTimeout(a.cfg.Analysis.Timeout),
		analysis.WithMetrics(a.metrics),
	}
	if a.model != nil {
		opts = append(opts, analysis.WithProvider(a.model, a.model.Name()))
	}
	return analysis.NewSession(id, opts...)
}

func (a *App) buildHandler() http.Handler {
	var checks []health.Checker
	if c, ok := a.sink.(transcript.Checker); ok {
		checks = append(checks, health.SinkCheck(c))
	}
	if a.model != nil {
		checks = append(checks, health.ProviderCheck(a.model.Available))
	}

	cors := api.DefaultCORSConfig()
	cors.AllowedOrigins = a.cfg.Server.CORSOrigins

	srv := api.New(a.sessions,
		api.WithRelay(a.relay),
		api.WithHealth(health.New(checks...)),
		api.WithMetricsHandler(a.metricsHandler),
		api.WithMetrics(a.metrics),
		api.WithCORS(cors),
	)
	return srv.Handler()
}

func (a *App) modelName() string {
	if a.model == nil {
		return "none"
	}
	return a.model.Name()
}

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and prunes idle sessions until ctx is cancelled, then stops
// the server gracefully. It returns nil after a clean stop and the first
// failure otherwise.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.serve()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})

	g.Go(func() error {
		return a.sessions.RunPruner(gctx, 0, a.cfg.Sessions.TTL())
	})

	g.Go(func() error {
		<-gctx.Done()
		a.relay.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: shutdown http: %w", err)
		}
		return nil
	})

	slog.Info("app running", "addr", a.addr())
	return g.Wait()
}

func (a *App) serve() error {
	tls := a.cfg.Server.TLS
	if a.listener != nil {
		if tls != nil {
			return a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		}
		return a.server.Serve(a.listener)
	}
	if tls != nil {
		return a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return a.server.ListenAndServe()
}

func (a *App) addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.server.Addr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes open relay connections, stops the HTTP server and then
// releases the transcript sinks. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "sessions", a.sessions.Len())

		a.relay.Close()
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
