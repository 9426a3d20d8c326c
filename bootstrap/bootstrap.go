// Package bootstrap assembles the application from configuration: logger,
// session, repository backend, stage, metrics, and the HTTP server.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/feedvault/feedvault/adapters/clock"
	"github.com/feedvault/feedvault/adapters/fsrepo"
	"github.com/feedvault/feedvault/adapters/memory"
	"github.com/feedvault/feedvault/adapters/metrics"
	"github.com/feedvault/feedvault/adapters/sqlite"
	"github.com/feedvault/feedvault/app"
	"github.com/feedvault/feedvault/config"
	"github.com/feedvault/feedvault/domain/session"
	"github.com/feedvault/feedvault/domain/stage"
	"github.com/feedvault/feedvault/ports"
	"github.com/feedvault/feedvault/web"
)

// App is the assembled application.
type App struct {
	cfg      *config.Config
	holder   *config.Holder
	logger   zerolog.Logger
	server   *http.Server
	archiver *app.Archiver
	closers  []func() error
}

// New assembles the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	return build(cfg, nil)
}

// NewWithHotReload assembles the application with config file watching.
// Only reloadable fields take effect without a restart.
func NewWithHotReload(path string) (*App, error) {
	logger := baseLogger(config.Logging{Level: "info", Format: "json"})
	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}
	return build(holder.Get(), holder)
}

func build(cfg *config.Config, holder *config.Holder) (*App, error) {
	logger := baseLogger(cfg.Logging)

	sess, err := buildSession(cfg.Session, logger)
	if err != nil {
		return nil, err
	}

	repo, closers, err := buildRepository(cfg.Storage)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	opts := []stage.Option{
		stage.WithClock(clock.Real{}),
		stage.WithLogger(logger),
	}
	if collector != nil {
		opts = append(opts, stage.WithObserver(collector))
	}
	st := stage.New(sess, repo, opts...)

	archiver := app.New(st, clock.Real{}, logger)

	handler := web.NewHandler(web.Deps{
		Archiver:    archiver,
		Logger:      logger,
		Metrics:     collector,
		MetricsPath: cfg.Metrics.Path,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a := &App{
		cfg:      cfg,
		holder:   holder,
		logger:   logger,
		server:   server,
		archiver: archiver,
		closers:  closers,
	}

	if holder != nil {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watching unavailable")
		}
		holder.WatchSignals()
	}

	return a, nil
}

// Archiver exposes the application service, mainly for embedding and tests.
func (a *App) Archiver() *app.Archiver { return a.archiver }

// Run starts the HTTP server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", a.server.Addr).Msg("server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return err
	}
	if a.holder != nil {
		a.holder.Stop()
	}
	for _, close := range a.closers {
		if err := close(); err != nil {
			a.logger.Warn().Err(err).Msg("close storage")
		}
	}
	return nil
}

// buildSession interns the configured session identifier, generating one when
// the config leaves it empty.
func buildSession(cfg config.Session, logger zerolog.Logger) (*session.Session, error) {
	if cfg.Identifier == "" {
		sess := session.Generate()
		logger.Warn().Str("session", sess.Identifier()).
			Msg("no session identifier configured; generated one (set session.identifier to keep a stable identity)")
		return sess, nil
	}
	return session.New(cfg.Identifier)
}

// buildRepository constructs the configured storage backend.
func buildRepository(cfg config.Storage) (ports.Repository, []func() error, error) {
	switch cfg.Driver {
	case "fs":
		repo, err := fsrepo.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return sqlite.NewRepository(db), []func() error{db.Close}, nil
	case "memory":
		return memory.NewRepository(), nil, nil
	}
	return nil, nil, fmt.Errorf("bootstrap: unknown storage driver %q", cfg.Driver)
}

// baseLogger builds the process logger per the logging configuration.
func baseLogger(cfg config.Logging) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
