// Package main implements offline-first caching HTTP proxy.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/zapctxd"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := loadConfig(nil)
	if err != nil {
		println(err.Error())
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		println(err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "proxy failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg config) (*zapctxd.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return zapctxd.New(zapctxd.Config{
		Level:   level,
		DevMode: cfg.DevMode,
	}), nil
}

// run serves proxy until context is done and shuts down gracefully.
func run(ctx context.Context, cfg config, logger ctxd.Logger) error {
	shutdownTracing, err := setupTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		return ctxd.WrapError(ctx, err, "failed to setup tracing")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	go a.connectivity.Run(monitorCtx)

	errs := make(chan error, 1)

	go func() {
		logger.Important(ctx, "starting proxy", "addr", cfg.ListenAddr, "upstream", cfg.Upstream, "storage", cfg.Storage)
		errs <- srv.ListenAndServe()
	}()

	var serveErr error

	select {
	case <-ctx.Done():
		logger.Important(ctx, "shutdown signal received")
	case serveErr = <-errs:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
	}

	if err := a.Close(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "failed to close storage", "error", err)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "failed to flush traces", "error", err)
	}

	logger.Important(shutdownCtx, "shutdown complete")

	return serveErr
}
