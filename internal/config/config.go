// Package config defines the sidetap extension configuration and the
// materialization pipeline that produces it. Configuration is loaded once
// during extension init (before the event loop starts) and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Env File -> Secret Store References (Lowest)
//
// Values may embed ${...} substitution tokens naming environment variables
// or secret-store ARNs; every token must resolve or startup fails. A
// partially resolved configuration never reaches the exporter.
package config

import (
	"time"

	"sidetap/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used in configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Settings is the top-level configuration struct for the extension. It is
// populated once during init and never modified. Components receive only
// the subsets they require.
type Settings struct {
	// System Metadata
	Environment string `envconfig:"SIDETAP_ENVIRONMENT" default:"dev"`
	LogLevel    string `envconfig:"SIDETAP_LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"SIDETAP_LOG_FORMAT" default:"text" validate:"oneof=text json"`

	// EnvFile is an optional KEY=VALUE file materialized into the
	// environment before the Settings struct itself is processed.
	EnvFile string `envconfig:"SIDETAP_ENV_FILE"`

	// Domain Configurations
	AWS      AWSSettings
	Intake   IntakeSettings
	Flush    FlushSettings
	Exporter ExporterSettings

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// AWSSettings holds regional configuration for the secret stores and the
// optional SQS sink and CloudWatch publisher.
type AWSSettings struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// IntakeSettings configures the telemetry intake listener.
type IntakeSettings struct {
	// ListenAddr is the address the telemetry API server binds; the
	// platform is subscribed to POST batches to it.
	ListenAddr string `envconfig:"SIDETAP_TELEMETRY_ENDPOINT" default:"0.0.0.0:8990" validate:"required,hostname_port"`

	// QueueSize bounds the intake event queue. The scheduler consumes from
	// this queue; intake never blocks the platform's POST longer than one
	// enqueue.
	QueueSize int `envconfig:"SIDETAP_INTAKE_QUEUE_SIZE" default:"50" validate:"min=1"`
}

// FlushSettings holds the adaptive flush policy constants. The cadence
// threshold and steady-run length are deliberately configuration, not code:
// the right values depend on the wrapped function's traffic shape.
type FlushSettings struct {
	// FastInvokeThreshold is the inter-arrival gap below which an
	// invocation counts toward a fast run.
	FastInvokeThreshold time.Duration `envconfig:"SIDETAP_FAST_INVOKE_THRESHOLD" default:"60s" validate:"min=1ms"`

	// SteadyMinRun is the number of consecutive fast invocations required
	// before the scheduler switches from post-invoke to pre-invoke
	// flushing.
	SteadyMinRun int `envconfig:"SIDETAP_STEADY_MIN_RUN" default:"3" validate:"min=1"`

	// BackupInterval is the safety-net flush interval covering long-running
	// invocations and idle gaps.
	BackupInterval time.Duration `envconfig:"SIDETAP_BACKUP_FLUSH_INTERVAL" default:"60s" validate:"min=1s"`

	// FlushTimeout bounds a single flush command issued to the exporter.
	FlushTimeout time.Duration `envconfig:"SIDETAP_FLUSH_TIMEOUT" default:"3s" validate:"min=100ms"`

	// ShutdownGrace bounds the final flush after the shutdown event; the
	// platform terminates the process shortly after delivering it.
	ShutdownGrace time.Duration `envconfig:"SIDETAP_SHUTDOWN_GRACE" default:"2s" validate:"min=100ms"`
}

// ExporterSettings configures the buffered exporter and its sink.
type ExporterSettings struct {
	// Sink selects the transport draining flushed batches.
	Sink string `envconfig:"SIDETAP_EXPORTER_SINK" default:"stdout" validate:"oneof=stdout http sqs"`

	// Endpoint is the HTTP sink target. Required when Sink is "http".
	Endpoint string `envconfig:"SIDETAP_EXPORTER_ENDPOINT" validate:"omitempty,url"`

	// AuthHeader is sent verbatim as the Authorization header by the HTTP
	// sink. Typically materialized from a secret reference, e.g.
	// "Bearer ${arn:aws:secretsmanager:...:secret:creds#api_key}".
	AuthHeader SecretString `envconfig:"SIDETAP_EXPORTER_AUTH_HEADER"`

	// Compression enables zstd compression of HTTP sink payloads.
	Compression bool `envconfig:"SIDETAP_EXPORTER_COMPRESSION" default:"true"`

	// QueueURL is the SQS sink target. Required when Sink is "sqs".
	QueueURL string `envconfig:"SIDETAP_EXPORTER_QUEUE_URL" validate:"omitempty,url"`

	// BufferCapacity bounds the record buffer; the oldest records are
	// dropped (and counted) when the buffer is full.
	BufferCapacity int `envconfig:"SIDETAP_BUFFER_CAPACITY" default:"2048" validate:"min=1"`

	// MetricsEnabled turns on the CloudWatch self-telemetry publisher.
	MetricsEnabled bool `envconfig:"SIDETAP_METRICS_ENABLED" default:"false"`
}
