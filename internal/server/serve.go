package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cachebridge/cachebridge/internal/config"
)

// Serve runs the HTTP server until SIGINT/SIGTERM, then shuts it down
// gracefully within the configured timeout before running the shutdown
// hooks.
func Serve(cfg config.ServerConfig, srv *http.Server, hooks *ShutdownHooks) error {
	notifyCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		// Startup failure: no graceful drain required, but hooks still run
		// so partially initialized resources are released.
		hooks.Execute(context.Background())
		return fmt.Errorf("server failed to serve: %w", err)
	case <-notifyCtx.Done():
	}

	log.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}

	hooks.Execute(shutdownCtx)

	return nil
}
