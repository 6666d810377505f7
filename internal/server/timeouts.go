// internal/server/timeouts.go
//
// HTTP server helper with robust timeouts and graceful shutdown.
//
// Defaults, used when the config leaves a value at zero:
//
//   • ReadTimeout        – abort slow-loris bodies (15 s; uploads need room)
//   • ReadHeaderTimeout  – abort slow headers (5 s)
//   • WriteTimeout       – cap total response time (45 s; provider sends)
//   • IdleTimeout        – close keep-alives on idle clients (60 s)
//
// This helper centralises those defaults so cmd/web doesn’t repeat
// boilerplate.
//

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/config"
)

const (
	defaultRead       = 15 * time.Second
	defaultReadHeader = 5 * time.Second
	defaultWrite      = 45 * time.Second
	defaultIdle       = 60 * time.Second

	// ShutdownGrace bounds how long in-flight requests may finish.
	ShutdownGrace = 20 * time.Second
)

// New constructs an *http.Server from cfg, filling zero timeouts.
func New(cfg config.HTTP, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       orDefault(cfg.ReadTimeout, defaultRead),
		ReadHeaderTimeout: defaultReadHeader,
		WriteTimeout:      orDefault(cfg.WriteTimeout, defaultWrite),
		IdleTimeout:       orDefault(cfg.IdleTimeout, defaultIdle),
		// TLS terminates at the reverse proxy; see middleware.ForceHTTPS.
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// up to ShutdownGrace.  A clean shutdown returns nil.
func Run(ctx context.Context, srv *http.Server, log *zap.SugaredLogger) error {
	errc := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Infow("http server shutting down", "grace", ShutdownGrace)
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
