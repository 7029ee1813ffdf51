package rotation

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/example/partition-rotator/internal/data"
	"github.com/example/partition-rotator/internal/logging"
	"github.com/example/partition-rotator/internal/metrics"
)

// Service runs ticks on a fixed interval and exposes health and metrics.
// It is the only place that reads the wall clock for as-of dates.
type Service struct {
	rot      *Rotator
	listen   string
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	ready    atomic.Bool
}

func NewService(rot *Rotator, listen string, interval time.Duration, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{rot: rot, listen: listen, interval: interval, loc: loc, now: time.Now}
}

func (s *Service) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("waiting for first tick"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// Run ticks immediately, then every interval, until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ev := logging.NewEventLogger()
	server := &http.Server{Addr: s.listen, Handler: s.handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	if s.listen != "" {
		go func() {
			ev.Infra("connect", "http", "success", s.listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	logging.Info("service_start", logging.F("listen", s.listen), logging.F("interval", s.interval.String()))

	s.tick(ctx)
	s.ready.Store(true)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
			logging.Info("service_stop")
			return nil
		case err := <-errCh:
			ev.Infra("error", "http", "failed", err.Error())
			return err
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	asOf := s.now().In(s.loc)
	if _, err := s.rot.Tick(ctx, asOf); err != nil && !errors.Is(err, data.ErrLockHeld) {
		// Already logged as a tick event; the next interval retries from a fresh inventory.
		logging.Debug("tick_error", logging.Err(err))
	}
}
