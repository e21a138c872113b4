package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/provider"
	"github.com/open-feature/flagwatch/pkg/telemetry"
	"github.com/open-feature/flagwatch/pkg/watch"
)

const shutdownTimeout = 10 * time.Second

type HTTPServiceConfiguration struct {
	Port        int32
	CORSOrigins []string
	Watch       watch.Config
	Metrics     bool
}

type HTTPService struct {
	HTTPServiceConfiguration *HTTPServiceConfiguration
}

// Serve listens until ctx is cancelled, then stops accepting requests and
// lets open watch sessions close themselves.
func (h *HTTPService) Serve(ctx context.Context, p provider.IProvider) error {
	if h.HTTPServiceConfiguration == nil {
		return errors.New("http service configuration has not been initialised")
	}
	cfg := h.HTTPServiceConfiguration

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("unable to listen on port %d: %w", cfg.Port, err)
	}
	return h.serve(ctx, listener, p)
}

func (h *HTTPService) serve(ctx context.Context, listener net.Listener, p provider.IProvider) error {
	cfg := h.HTTPServiceConfiguration

	var metrics *telemetry.Metrics
	if cfg.Metrics {
		metrics = telemetry.New()
	}
	registry := NewSessionRegistry()
	metrics.TrackActiveSessions(registry.Len)

	watchHandler := NewWatchHandler(p, cfg.Watch, registry, metrics, cfg.CORSOrigins)
	router := NewRouter(NewServer(p, watchHandler, metrics), metrics, cfg.CORSOrigins)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", listener.Addr())
		errc <- srv.Serve(listener)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if n := registry.Len(); n > 0 {
		log.WithField("sessions", registry.Flags()).Infof("closing %d active watch sessions", n)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http service shutdown: %w", err)
	}
	if err := watchHandler.Wait(shutdownCtx); err != nil {
		return fmt.Errorf("waiting for watch sessions: %w", err)
	}
	return nil
}
