package telemetryapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidetap/internal/intake"
	"sidetap/internal/types"
)

func postBatch(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func drain(bus *intake.Bus, n int) []intake.Message {
	out := make([]intake.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, <-bus.Messages())
	}
	return out
}

func TestHandleBatchPublishesLifecycleAndRecords(t *testing.T) {
	bus := intake.NewBus(16, nil)
	s := NewServer("127.0.0.1:0", bus, nil)

	body := `[
		{"time":"2026-03-01T12:00:00.000Z","type":"platform.start","record":{"requestId":"req-1","version":"$LATEST"}},
		{"time":"2026-03-01T12:00:00.100Z","type":"function","record":"plain text line"},
		{"time":"2026-03-01T12:00:00.150Z","type":"platform.initStart","record":{"phase":"init"}},
		{"time":"2026-03-01T12:00:00.200Z","type":"platform.runtimeDone","record":{"requestId":"req-1","status":"success"}}
	]`
	rec := postBatch(t, s.Handler(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := drain(bus, 3)

	require.NotNil(t, msgs[0].Event)
	assert.Equal(t, types.EventInvokeStart, msgs[0].Event.Kind)
	assert.Equal(t, "req-1", msgs[0].Event.RequestID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), msgs[0].Event.Time.UTC())

	require.NotNil(t, msgs[1].Record)
	assert.Equal(t, types.LogSourceFunction, msgs[1].Record.Source)
	assert.Equal(t, `"plain text line"`, string(msgs[1].Record.Body))

	// platform.initStart is ignored; the next message is runtimeDone.
	require.NotNil(t, msgs[2].Event)
	assert.Equal(t, types.EventInvokeEnd, msgs[2].Event.Kind)
}

func TestHandleBatchPromotesStructuredLogMetadata(t *testing.T) {
	bus := intake.NewBus(16, nil)
	s := NewServer("127.0.0.1:0", bus, nil)

	body := `[{"time":"2026-03-01T12:00:01.000Z","type":"function",
		"record":{"timestamp":"2026-03-01T12:00:00.500Z","level":"WARN","requestId":"req-9","message":"slow query"}}]`
	rec := postBatch(t, s.Handler(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	msg := <-bus.Messages()
	require.NotNil(t, msg.Record)
	assert.Equal(t, "WARN", msg.Record.Level)
	assert.Equal(t, "req-9", msg.Record.RequestID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 500000000, time.UTC), msg.Record.Time.UTC())
	assert.Contains(t, string(msg.Record.Body), "slow query")
}

func TestHandleBatchExtensionRecords(t *testing.T) {
	bus := intake.NewBus(16, nil)
	s := NewServer("127.0.0.1:0", bus, nil)

	body := `[{"time":"2026-03-01T12:00:01.000Z","type":"extension","record":"extension ready"}]`
	require.Equal(t, http.StatusOK, postBatch(t, s.Handler(), body).Code)

	msg := <-bus.Messages()
	require.NotNil(t, msg.Record)
	assert.Equal(t, types.LogSourceExtension, msg.Record.Source)
}

func TestHandleBatchRejectsWrongContentType(t *testing.T) {
	bus := intake.NewBus(16, nil)
	s := NewServer("127.0.0.1:0", bus, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[]`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatchRejectsMalformedJSON(t *testing.T) {
	bus := intake.NewBus(16, nil)
	s := NewServer("127.0.0.1:0", bus, nil)

	rec := postBatch(t, s.Handler(), `{"not":"an array"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatchClosedBusReturnsUnavailable(t *testing.T) {
	bus := intake.NewBus(16, nil)
	s := NewServer("127.0.0.1:0", bus, nil)
	bus.Close()

	body := `[{"time":"2026-03-01T12:00:00.000Z","type":"platform.start","record":{"requestId":"req-1"}}]`
	rec := postBatch(t, s.Handler(), body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMapEventIgnoresUnknownTypes(t *testing.T) {
	ev, rec, err := mapEvent(platformEvent{Type: "platform.report"})
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Nil(t, rec)
}
