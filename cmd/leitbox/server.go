package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/leitbox/internal/platform/logger"
)

const readHeaderTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string) error {
	cmd := newCommand("serve [flags]", "Run the HTTP API server.", stderr)
	if err := cmd.parse(args); err != nil {
		return quiet(err)
	}

	cfg, err := cmd.loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver))

	db, dialect, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	app, err := newApplication(ctx, cfg, log, db, dialect)
	if err != nil {
		_ = db.Close()
		return err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.startBackground(bgCtx)

	return app.startHTTPServer(ctx, app.router())
}

// startHTTPServer starts the HTTP server with graceful shutdown support.
// It returns once the server has stopped and cleanup has run.
func (app *application) startHTTPServer(ctx context.Context, router http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", slog.Int("port", app.config.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("server failed", slog.String("error", err.Error()))
			serveErr <- err
			cancelServer()
		}
	}()

	select {
	case sig := <-shutdownCh:
		app.logger.Info("shutting down server", slog.String("signal", sig.String()))
	case <-serverCtx.Done():
		app.logger.Info("server context canceled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	var err error
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		app.logger.Error("server shutdown failed", slog.String("error", shutdownErr.Error()))
		err = fmt.Errorf("server shutdown failed: %w", shutdownErr)
	}

	app.cleanup()

	select {
	case listenErr := <-serveErr:
		return fmt.Errorf("server failed: %w", listenErr)
	default:
	}
	if err == nil {
		app.logger.Info("server shutdown completed")
	}
	return err
}
