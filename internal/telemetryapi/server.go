// Package telemetryapi implements the HTTP listener the platform delivers
// telemetry batches to. The extension subscribes this endpoint during
// registration; afterwards the platform POSTs JSON arrays of events, which
// are mapped onto the intake stream: platform lifecycle events for the
// scheduler, function/extension output as log records for the exporter.
//
// Handlers never log function or extension records themselves; doing so
// would feed the extension's own output back through the platform and loop.
package telemetryapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sidetap/internal/intake"
)

// shutdownTimeout bounds draining of in-flight telemetry deliveries.
const shutdownTimeout = 3 * time.Second

// Server receives Telemetry API batches and publishes them to the bus.
type Server struct {
	bus    *intake.Bus
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, bus *intake.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:    bus,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Post("/", s.handleBatch)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully so a batch
// already in flight still reaches the bus.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.logger.Info("telemetry listener started", "addr", s.srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// handleBatch decodes one telemetry batch and publishes its events in
// order. A batch that cannot be parsed is rejected; a bus that can no
// longer accept events turns into a 503 so the platform's retry surfaces
// the condition.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "expected application/json", http.StatusBadRequest)
		return
	}

	var events []platformEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		s.logger.Warn("unable to parse telemetry batch", "error", err.Error())
		http.Error(w, "malformed telemetry batch", http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		lifecycle, record, err := mapEvent(ev)
		if err != nil {
			s.logger.Warn("skipping malformed telemetry event",
				"type", ev.Type,
				"error", err.Error(),
			)
			continue
		}

		switch {
		case lifecycle != nil:
			err = s.bus.PublishEvent(r.Context(), *lifecycle)
		case record != nil:
			err = s.bus.PublishRecord(r.Context(), *record)
		default:
			continue
		}
		if err != nil {
			http.Error(w, "intake unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}
