// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/internal/browser"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/journal"
	"github.com/xkilldash9x/forceps/internal/observability"
	"github.com/xkilldash9x/forceps/internal/server"
	"github.com/xkilldash9x/forceps/internal/session"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the browser session service until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// serveComponents holds everything runServe must tear down, in the order it
// was brought up.
type serveComponents struct {
	runtime    *browser.Runtime
	hub        *session.Hub
	registry   *session.Registry
	pool       *pgxpool.Pool
	writerDone chan struct{}
	srv        *server.Server
}

// initializeServeComponents assembles the service: engine runtime, event hub,
// journal writer, session registry and HTTP server. Nothing listens or
// launches browsers yet; that starts with srv.Start and the first session.
func initializeServeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*serveComponents, error) {
	runtime := browser.NewRuntime(cfg.Browser, logger)
	hub := session.NewHub(logger, cfg.Session.EventBuffer)

	recorder, pool, err := initializeJournal(ctx, cfg.Journal, logger)
	if err != nil {
		hub.Shutdown()
		return nil, err
	}

	// The writer runs on a background context so it keeps draining buffered
	// events after the serve context is canceled; hub shutdown ends the feed.
	feed, cancelFeed := hub.Subscribe()
	writer := journal.NewWriter(logger, recorder, feed, cancelFeed)
	writerDone := make(chan struct{})
	go func() {
		writer.Run(context.Background())
		close(writerDone)
	}()

	capturer := session.NewCapturer(logger, cfg.Session.Screenshot)
	registry := session.NewRegistry(logger, cfg.Session, runtime, capturer, hub)

	srv := server.New(logger, cfg, registry, hub, Version)

	return &serveComponents{
		runtime:    runtime,
		hub:        hub,
		registry:   registry,
		pool:       pool,
		writerDone: writerDone,
		srv:        srv,
	}, nil
}

// initializeJournal connects the event journal when enabled and makes sure
// its schema exists. The returned recorder is never nil; with journaling off
// it is an inert sink.
func initializeJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (journal.Recorder, *pgxpool.Pool, error) {
	if !cfg.Enabled {
		logger.Info("Journal disabled, lifecycle events will not be persisted")
		return journal.Nop{}, nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create journal pool: %w", err)
	}
	store, err := journal.New(connectCtx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}
	return store, pool, nil
}

// teardown drains sessions and releases infrastructure in reverse start
// order. The engine driver stops last; every browser it owns must be closed
// by the registry drain first.
func (c *serveComponents) teardown(cfg *config.Config, logger *zap.Logger) {
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()

	if err := c.registry.Shutdown(drainCtx); err != nil {
		logger.Error("Session drain incomplete", zap.Error(err))
	}

	// Ending the hub closes every feed; the journal writer drains what is
	// already buffered and exits on its own.
	c.hub.Shutdown()
	<-c.writerDone

	if c.pool != nil {
		c.pool.Close()
	}
	if err := c.runtime.Stop(); err != nil {
		logger.Warn("Engine driver stop failed", zap.Error(err))
	}
}

// runServe brings the service up and blocks until the context is canceled or
// the HTTP server fails on its own.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()
	logger.Info("Starting forceps",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr()),
	)

	components, err := initializeServeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- components.srv.Start()
	}()

	var runErr error
	select {
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("HTTP server stopped unexpectedly", zap.Error(runErr))
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining sessions...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
		if err := components.srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
		cancel()
		<-serveErr
	}

	components.teardown(cfg, logger)
	logger.Info("forceps stopped")
	return runErr
}
