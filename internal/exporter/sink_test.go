package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidetap/internal/types"
)

func TestStdoutSinkWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdoutSink(&buf)

	batch := Batch{ID: "b1", Records: twoRecords(t)}
	require.NoError(t, s.Send(context.Background(), batch))

	scanner := bufio.NewScanner(&buf)
	var lines []exportLine
	for scanner.Scan() {
		var line exportLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "b1", lines[0].BatchID)
	assert.Equal(t, `"r1"`, string(lines[0].Record.Body))
	assert.Equal(t, `"r2"`, string(lines[1].Record.Body))
}

func TestHTTPSinkSendsCompressedBatch(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPSinkConfig{
		Endpoint:    srv.URL,
		AuthHeader:  "Bearer token123",
		Compression: true,
	})
	require.NoError(t, err)

	batch := Batch{ID: "b1", Records: twoRecords(t)}
	require.NoError(t, s.Send(context.Background(), batch))

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "zstd", gotHeaders.Get("Content-Encoding"))
	assert.Equal(t, "b1", gotHeaders.Get("X-Batch-Id"))
	assert.Equal(t, "Bearer token123", gotHeaders.Get("Authorization"))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(gotBody, nil)
	require.NoError(t, err)

	var decoded Batch
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "b1", decoded.ID)
	assert.Len(t, decoded.Records, 2)
}

func TestHTTPSinkServerErrorFailsSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	err = s.Send(context.Background(), Batch{ID: "b1", Records: twoRecords(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPSinkRejectionFailsSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPSinkConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	err = s.Send(context.Background(), Batch{ID: "b1", Records: twoRecords(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

// mockSQS records SendMessageBatch inputs.
type mockSQS struct {
	inputs []*sqs.SendMessageBatchInput
	failed []sqsTypes.BatchResultErrorEntry
}

func (m *mockSQS) SendMessageBatch(_ context.Context, params *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	m.inputs = append(m.inputs, params)
	return &sqs.SendMessageBatchOutput{Failed: m.failed}, nil
}

func TestSQSSinkChunksEntries(t *testing.T) {
	client := &mockSQS{}
	s := NewSQSSink(client, "https://sqs.us-east-1.amazonaws.com/123456789012/telemetry", nil)

	batch := Batch{ID: "b1"}
	for i := 0; i < 25; i++ {
		batch.Records = append(batch.Records, record(i))
	}
	require.NoError(t, s.Send(context.Background(), batch))

	require.Len(t, client.inputs, 3)
	assert.Len(t, client.inputs[0].Entries, 10)
	assert.Len(t, client.inputs[1].Entries, 10)
	assert.Len(t, client.inputs[2].Entries, 5)

	entry := client.inputs[0].Entries[0]
	assert.Equal(t, "b1", aws.ToString(entry.MessageAttributes["BatchId"].StringValue))
}

func TestSQSSinkFailedEntryFailsSend(t *testing.T) {
	client := &mockSQS{failed: []sqsTypes.BatchResultErrorEntry{{
		Id:      aws.String("rec-0"),
		Code:    aws.String("InternalError"),
		Message: aws.String("try again"),
	}}}
	s := NewSQSSink(client, "https://sqs.us-east-1.amazonaws.com/123456789012/telemetry", nil)

	err := s.Send(context.Background(), Batch{ID: "b1", Records: twoRecords(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InternalError")
}

// twoRecords returns two small records for sink tests.
func twoRecords(t *testing.T) []types.Record {
	t.Helper()
	return []types.Record{record(1), record(2)}
}
