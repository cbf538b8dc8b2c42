package exporter

import (
	"sync"

	"sidetap/internal/types"
)

// Buffer is a fixed-capacity ring of telemetry records. When full, the
// oldest record is overwritten and counted, so a stalled sink costs memory
// for the newest records only and never blocks the intake path.
type Buffer struct {
	mu      sync.Mutex
	ring    []types.Record
	head    int
	count   int
	dropped uint64
}

// NewBuffer creates a Buffer holding at most capacity records.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{ring: make([]types.Record, capacity)}
}

// Append adds a record, overwriting the oldest one when the buffer is full.
// It reports whether a record was dropped to make room.
func (b *Buffer) Append(record types.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.ring) {
		b.ring[b.head] = record
		b.head = (b.head + 1) % len(b.ring)
		b.dropped++
		return true
	}
	b.ring[(b.head+b.count)%len(b.ring)] = record
	b.count++
	return false
}

// Drain removes and returns all buffered records in arrival order, along
// with the number of records dropped since the previous drain.
func (b *Buffer) Drain() ([]types.Record, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.snapshotLocked()
	b.head = 0
	b.count = 0
	dropped := b.dropped
	b.dropped = 0
	return out, dropped
}

// Restore puts records back at the front of the buffer after a failed send,
// ahead of anything enqueued in the meantime. If the combined set exceeds
// capacity, the oldest records are discarded and counted as dropped.
func (b *Buffer) Restore(records []types.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	combined := append(records, b.snapshotLocked()...)
	if overflow := len(combined) - len(b.ring); overflow > 0 {
		b.dropped += uint64(overflow)
		combined = combined[overflow:]
	}
	b.head = 0
	b.count = copy(b.ring, combined)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer) snapshotLocked() []types.Record {
	out := make([]types.Record, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	return out
}
