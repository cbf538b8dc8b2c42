package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sony/gobreaker/v2"

	"sidetap/internal/types"
)

// HTTPSink POSTs batches to a collector endpoint as JSON, optionally
// zstd-compressed. A circuit breaker sits around the request so a dead
// collector fails fast instead of burning the flush timeout on every
// trigger; the exporter's restore-on-failure keeps the records for the next
// attempt either way.
type HTTPSink struct {
	client     *http.Client
	endpoint   string
	authHeader types.SecretString
	encoder    *zstd.Encoder
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
}

// HTTPSinkConfig holds the settings for creating an HTTPSink.
type HTTPSinkConfig struct {
	Endpoint    string
	AuthHeader  types.SecretString
	Compression bool
	Client      *http.Client
	Logger      *slog.Logger
}

// NewHTTPSink creates an HTTPSink for the given endpoint.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var encoder *zstd.Encoder
	if cfg.Compression {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		encoder = enc
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "exporter-http",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &HTTPSink{
		client:     client,
		endpoint:   cfg.Endpoint,
		authHeader: cfg.AuthHeader,
		encoder:    encoder,
		breaker:    cb,
		logger:     logger,
	}, nil
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return "http" }

// Send POSTs the batch. 5xx and 429 responses count against the breaker;
// other non-2xx responses are returned as plain errors since retrying them
// with the same payload will not help the breaker decide anything.
func (s *HTTPSink) Send(ctx context.Context, batch Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding batch %s: %w", batch.ID, err)
	}
	compressed := s.encoder != nil
	if compressed {
		payload = s.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/4))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request for batch %s: %w", batch.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Batch-Id", batch.ID)
	if compressed {
		req.Header.Set("Content-Encoding", "zstd")
	}
	if s.authHeader.Unmask() != "" {
		req.Header.Set("Authorization", s.authHeader.Unmask())
	}

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("collector returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return fmt.Errorf("posting batch %s: %w", batch.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector rejected batch %s with status %d", batch.ID, resp.StatusCode)
	}
	return nil
}
