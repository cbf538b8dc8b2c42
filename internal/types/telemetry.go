package types

// Self-telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricFlushCount      = "FlushCount"
	MetricFlushFailure    = "FlushFailure"
	MetricFlushDuration   = "FlushDuration"
	MetricRecordsExported = "RecordsExported"
	MetricRecordsDropped  = "RecordsDropped"

	// Dimension Keys
	DimTrigger = "Trigger"
	DimSink    = "Sink"

	// Metric Namespace
	MetricNamespace = "Sidetap"
)

// FlushTrigger labels what caused a flush, used as a metric dimension and
// in structured log output.
type FlushTrigger string

const (
	// TriggerPostInvoke is the cold-start flush issued at invoke-end.
	TriggerPostInvoke FlushTrigger = "post-invoke"
	// TriggerPreInvoke is the steady-state flush issued at invoke-start.
	TriggerPreInvoke FlushTrigger = "pre-invoke"
	// TriggerBackup is the safety-net flush issued by the backup timer.
	TriggerBackup FlushTrigger = "backup"
	// TriggerShutdown is the final flush issued on the shutdown event.
	TriggerShutdown FlushTrigger = "shutdown"
)
