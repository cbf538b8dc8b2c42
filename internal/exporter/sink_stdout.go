package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"sidetap/internal/types"
)

// StdoutSink writes records as JSON lines to a writer, one record per line.
// It is the default sink and the one used when the function's own log group
// is the desired destination.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink creates a StdoutSink writing to w, or os.Stdout when w is nil.
func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{w: w}
}

// Name implements Sink.
func (s *StdoutSink) Name() string { return "stdout" }

// Send writes each record in the batch as one JSON line.
func (s *StdoutSink) Send(ctx context.Context, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for i := range batch.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(exportLine{BatchID: batch.ID, Record: batch.Records[i]}); err != nil {
			return fmt.Errorf("writing record %d of batch %s: %w", i, batch.ID, err)
		}
	}
	return nil
}

// exportLine is the JSON-lines shape emitted by StdoutSink.
type exportLine struct {
	BatchID string       `json:"batch_id"`
	Record  types.Record `json:"record"`
}
