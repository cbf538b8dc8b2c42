// Package exporter buffers telemetry records and drains them to a
// configured sink on demand. The scheduler decides when to flush; this
// package owns what a flush does: drain the buffer, wrap the records in an
// identified batch, and hand them to the sink. A failed send puts the
// records back so the next flush trigger retries them naturally.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sidetap/internal/metrics"
	"sidetap/internal/types"
)

// Batch is one flush worth of records with a unique identifier for
// downstream deduplication.
type Batch struct {
	ID      string         `json:"batch_id"`
	Records []types.Record `json:"records"`
}

// Sink transmits a drained batch. Implementations own their transport
// concerns (compression, auth, circuit breaking); the exporter owns
// buffering and retry-by-next-trigger semantics.
type Sink interface {
	// Name identifies the sink in logs and metric dimensions.
	Name() string
	// Send transmits the batch. An error means the batch was not accepted
	// and its records should survive for a later flush.
	Send(ctx context.Context, batch Batch) error
}

// Exporter is the external-collaborator boundary the scheduler talks to.
// Enqueue never blocks; FlushNow drains everything buffered at the moment
// of the call.
type Exporter struct {
	buffer  *Buffer
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Publisher
}

// Config holds the exporter's dependencies.
type Config struct {
	Sink           Sink
	BufferCapacity int
	Logger         *slog.Logger
	Metrics        *metrics.Publisher
}

// New creates an Exporter draining into cfg.Sink.
func New(cfg Config) *Exporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		buffer:  NewBuffer(cfg.BufferCapacity),
		sink:    cfg.Sink,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Enqueue buffers a record without blocking. When the buffer is full the
// oldest record is displaced; the loss is surfaced in the next flush's log
// line and drop metric rather than per record.
func (e *Exporter) Enqueue(record types.Record) {
	e.buffer.Append(record)
}

// FlushNow drains the buffer and sends one batch to the sink. An empty
// buffer is a no-op. On failure the drained records are restored and an
// error with a flush code is returned; the caller is expected to log it and
// move on rather than retry in place.
func (e *Exporter) FlushNow(ctx context.Context) error {
	records, dropped := e.buffer.Drain()
	if dropped > 0 {
		e.logger.Warn("records dropped from full buffer",
			"dropped", dropped,
			"sink", e.sink.Name(),
		)
		e.metrics.Count(types.MetricRecordsDropped, float64(dropped), map[string]string{
			types.DimSink: e.sink.Name(),
		})
	}
	if len(records) == 0 {
		return nil
	}

	batch := Batch{ID: uuid.New().String(), Records: records}
	start := time.Now()
	if err := e.sink.Send(ctx, batch); err != nil {
		e.buffer.Restore(records)

		code := types.ErrCodeFlushFailed
		if errors.Is(err, context.DeadlineExceeded) {
			code = types.ErrCodeFlushTimeout
		}
		return types.NewAppError(code,
			fmt.Sprintf("sending batch %s (%d records) to %s", batch.ID, len(records), e.sink.Name()), err)
	}

	e.metrics.Count(types.MetricRecordsExported, float64(len(records)), map[string]string{
		types.DimSink: e.sink.Name(),
	})
	e.logger.Debug("batch exported",
		"batch_id", batch.ID,
		"records", len(records),
		"sink", e.sink.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Pending returns the number of buffered records.
func (e *Exporter) Pending() int {
	return e.buffer.Len()
}
