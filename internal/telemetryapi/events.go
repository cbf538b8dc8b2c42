package telemetryapi

import (
	"bytes"
	"encoding/json"
	"time"

	"sidetap/internal/types"
)

// Platform event types from the Lambda Telemetry API schema. Event types
// not listed here (platform.initStart, platform.report, ...) carry no
// signal the scheduler or exporter needs and are ignored.
const (
	eventPlatformStart       = "platform.start"
	eventPlatformRuntimeDone = "platform.runtimeDone"
	eventFunction            = "function"
	eventExtension           = "extension"
)

// platformEvent is one element of a Telemetry API batch. Record is either a
// JSON object (platform events, structured logs) or a bare JSON string
// (plain-text log lines).
type platformEvent struct {
	Time   time.Time       `json:"time"`
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
}

// invocationRecord is the subset of platform.start / platform.runtimeDone
// records the scheduler cares about.
type invocationRecord struct {
	RequestID string `json:"requestId"`
}

// structuredLog is the well-known metadata of a JSON-formatted function log
// record, promoted into Record fields.
type structuredLog struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	RequestID string `json:"requestId"`
}

// mapEvent converts a platform event into a lifecycle event or a log
// record. Both results nil means the event type is ignored.
func mapEvent(ev platformEvent) (*types.LifecycleEvent, *types.Record, error) {
	switch ev.Type {
	case eventPlatformStart, eventPlatformRuntimeDone:
		var inv invocationRecord
		if len(ev.Record) > 0 {
			if err := json.Unmarshal(ev.Record, &inv); err != nil {
				return nil, nil, err
			}
		}
		kind := types.EventInvokeStart
		if ev.Type == eventPlatformRuntimeDone {
			kind = types.EventInvokeEnd
		}
		return &types.LifecycleEvent{
			Kind:      kind,
			Time:      ev.Time,
			RequestID: inv.RequestID,
		}, nil, nil

	case eventFunction:
		rec := buildLogRecord(types.LogSourceFunction, ev)
		return nil, &rec, nil

	case eventExtension:
		rec := buildLogRecord(types.LogSourceExtension, ev)
		return nil, &rec, nil

	default:
		return nil, nil, nil
	}
}

// buildLogRecord wraps a log payload. Structured (JSON object) records get
// their timestamp, level, and requestId promoted into record metadata; the
// body always carries the original payload untouched.
func buildLogRecord(source types.LogSource, ev platformEvent) types.Record {
	rec := types.Record{
		Source: source,
		Time:   ev.Time,
		Body:   ev.Record,
	}

	trimmed := bytes.TrimSpace(ev.Record)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return rec
	}

	var meta structuredLog
	if err := json.Unmarshal(trimmed, &meta); err != nil {
		return rec
	}
	if meta.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, meta.Timestamp); err == nil {
			rec.Time = ts
		}
	}
	rec.Level = meta.Level
	rec.RequestID = meta.RequestID
	return rec
}
