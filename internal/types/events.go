// Package types defines the shared data model for the sidetap extension:
// lifecycle events, telemetry records, error taxonomy, and the redacted
// secret string type.
package types

import (
	"encoding/json"
	"time"
)

// EventKind enumerates the lifecycle transitions delivered by the event
// intake. Log records travel on a separate path and are not lifecycle
// events.
type EventKind string

const (
	// EventInvokeStart marks the beginning of a function invocation.
	EventInvokeStart EventKind = "invoke-start"
	// EventInvokeEnd marks the completion of a function invocation.
	EventInvokeEnd EventKind = "invoke-end"
	// EventShutdown is the one-shot terminal event; the platform grants a
	// short grace period after delivering it.
	EventShutdown EventKind = "shutdown"
)

// LifecycleEvent is a single typed lifecycle transition. Events are
// delivered to the scheduler in arrival order through one serialized
// stream.
type LifecycleEvent struct {
	Kind EventKind
	Time time.Time

	// RequestID identifies the invocation when the platform supplies one.
	// Empty for shutdown events.
	RequestID string

	// Reason is set only for shutdown events (e.g. "spindown", "timeout",
	// "failure").
	Reason string
}

// LogSource identifies the producer of a telemetry record.
type LogSource string

const (
	// LogSourceFunction is output written by the wrapped function itself.
	LogSourceFunction LogSource = "function"
	// LogSourceExtension is output produced by extension processes.
	LogSourceExtension LogSource = "extension"
)

// Record is a single buffered telemetry record. The intake promotes
// well-known fields of structured function logs (timestamp, level,
// requestId) into metadata; Body always carries the original payload.
type Record struct {
	Source    LogSource       `json:"source"`
	Time      time.Time       `json:"time"`
	Level     string          `json:"level,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Body      json.RawMessage `json:"body"`
}
