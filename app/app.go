// Package app manages the application lifecycle: it assembles the
// shared subsystems from the startup configuration, owns them for the
// life of the process, and drives graceful shutdown on SIGINT/SIGTERM.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/surgeserve/surge/config"
	"github.com/surgeserve/surge/core"
	"github.com/surgeserve/surge/core/cache"
	"github.com/surgeserve/surge/core/ratelimit"
)

// App is the application instance. It is the single owner of the
// limiter, cache, and engine; handlers receive shared references, never
// ownership.
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	engine  *core.Engine
	server  *core.Server
	limiter *ratelimit.Limiter
	cache   *cache.Cache
}

// New assembles an application from its configuration.
func New(cfg *config.Config) *App {
	log := newLogger(cfg.Env)

	if cfg.WorkerThreads > 0 {
		runtime.GOMAXPROCS(cfg.WorkerThreads)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:   cfg.RateLimit.Capacity,
		RefillRate: cfg.RateLimit.RefillRate,
		IdleTTL:    cfg.RateLimitIdleTTL(),
	})

	var fileCache *cache.Cache
	if cfg.Cache.Dir != "" {
		fileCache = cache.New(cfg.Cache.Dir, cfg.CacheTTL())
	}

	engine := core.NewEngine(core.Options{
		Logger:          log,
		MaxRequestBytes: cfg.MaxRequestBytes,
		IdleTimeout:     cfg.IdleTimeout(),
		Limiter:         limiter,
		Cache:           fileCache,
	})
	engine.MountHealth()
	engine.MountMetrics()
	if fileCache != nil {
		engine.ServeStatic("/static")
	}

	server := core.NewServer(engine, cfg.Addr(), core.ServerOptions{
		MaxConnections: cfg.MaxConnections,
		DrainTimeout:   cfg.DrainTimeout(),
	})

	return &App{
		cfg:     cfg,
		log:     log,
		engine:  engine,
		server:  server,
		limiter: limiter,
		cache:   fileCache,
	}
}

// Engine returns the underlying engine for route registration.
func (a *App) Engine() *core.Engine { return a.engine }

// Run serves until SIGINT/SIGTERM, then drains gracefully.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info().
		Str("addr", a.cfg.Addr()).
		Str("env", a.cfg.Env).
		Msg("starting surge")

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("signal received, draining")
	err := a.server.Shutdown(context.Background())
	a.close()

	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, core.ErrServerClosed) {
		return serveErr
	}
	return err
}

func (a *App) close() {
	a.limiter.Close()
	if a.cache != nil {
		a.cache.Close()
	}
}

// newLogger builds the process logger: human-readable console output in
// development, JSON to stdout otherwise.
func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
