// Package metrics emits the extension's self-telemetry to CloudWatch.
// Counters are buffered in memory and shipped on a fixed interval so the
// flush hot path never waits on a PutMetricData call.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sidetap/internal/types"
)

// publishInterval is how often buffered datums are shipped.
const publishInterval = 60 * time.Second

// maxDatumsPerCall is the PutMetricData batch limit honored per request.
const maxDatumsPerCall = 20

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher accumulates metric datums and publishes them in the background.
// A nil *Publisher is a valid no-op, so callers never need to branch on
// whether self-telemetry is enabled.
type Publisher struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

// NewPublisher creates a Publisher for the extension's metric namespace.
func NewPublisher(client CloudWatchClient, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// Count buffers a count datum.
func (p *Publisher) Count(name string, value float64, dims map[string]string) {
	if p == nil {
		return
	}
	p.append(cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(time.Now().UTC()),
		Dimensions: dimensions(dims),
	})
}

// Duration buffers a latency datum in milliseconds.
func (p *Publisher) Duration(name string, d time.Duration, dims map[string]string) {
	if p == nil {
		return
	}
	p.append(cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Timestamp:  aws.Time(time.Now().UTC()),
		Dimensions: dimensions(dims),
	})
}

func (p *Publisher) append(datum cwtypes.MetricDatum) {
	p.mu.Lock()
	p.pending = append(p.pending, datum)
	p.mu.Unlock()
}

// Run publishes buffered datums every publishInterval until ctx is
// cancelled, then makes one final best-effort publish.
func (p *Publisher) Run(ctx context.Context) error {
	if p == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			p.Flush(final)
			cancel()
			return nil
		}
	}
}

// Flush publishes all buffered datums, chunked to the PutMetricData batch
// limit. Failures are logged and the affected datums are dropped; metric
// delivery is best-effort.
func (p *Publisher) Flush(ctx context.Context) {
	if p == nil {
		return
	}

	p.mu.Lock()
	datums := p.pending
	p.pending = nil
	p.mu.Unlock()

	for i := 0; i < len(datums); i += maxDatumsPerCall {
		chunk := datums[i:min(i+maxDatumsPerCall, len(datums))]
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: chunk,
		}
		if _, err := p.client.PutMetricData(ctx, input); err != nil {
			p.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"datums", len(chunk),
			)
		}
	}
}

// dimensions converts a map into sorted CloudWatch dimensions so datum
// shapes are stable across publishes.
func dimensions(dims map[string]string) []cwtypes.Dimension {
	if len(dims) == 0 {
		return nil
	}
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]cwtypes.Dimension, 0, len(keys))
	for _, k := range keys {
		out = append(out, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(dims[k]),
		})
	}
	return out
}
