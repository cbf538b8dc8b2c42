package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"sidetap/internal/config"
	"sidetap/internal/intake"
	"sidetap/internal/metrics"
	"sidetap/internal/types"
)

// Flusher is the exporter surface the scheduler drives. Enqueue must not
// block; FlushNow drains everything buffered at the time of the call.
type Flusher interface {
	Enqueue(record types.Record)
	FlushNow(ctx context.Context) error
}

// Config holds the scheduler's dependencies.
type Config struct {
	Bus      *intake.Bus
	Exporter Flusher
	Settings config.FlushSettings
	Logger   *slog.Logger
	Metrics  *metrics.Publisher
}

// Scheduler owns the flush decision. All state mutation happens on the
// single Run goroutine: lifecycle events and backup-timer firings are
// consumed one at a time, so Policy needs no locking. Actual FlushNow calls
// run on a separate dispatcher goroutine fed through a coalescing trigger
// channel, so a slow sink delays at most one pending trigger and never the
// event stream itself.
type Scheduler struct {
	messages <-chan intake.Message
	exporter Flusher
	settings config.FlushSettings
	logger   *slog.Logger
	metrics  *metrics.Publisher

	policy   Policy
	triggers chan types.FlushTrigger
}

// New creates a Scheduler in cold-start mode.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		messages: cfg.Bus.Messages(),
		exporter: cfg.Exporter,
		settings: cfg.Settings,
		logger:   logger,
		metrics:  cfg.Metrics,
		policy:   NewColdStart(cfg.Settings.FastInvokeThreshold, cfg.Settings.SteadyMinRun),
		triggers: make(chan types.FlushTrigger, 1),
	}
}

// Run processes the intake stream until a shutdown event arrives or the
// stream fails. It returns nil after a clean shutdown (final flush issued
// under the grace budget) and a fatal lifecycle error if the stream closes
// without one.
func (s *Scheduler) Run(ctx context.Context) error {
	dispatcherDone := make(chan struct{})
	go s.dispatch(dispatcherDone)

	backup := time.NewTimer(s.settings.BackupInterval)
	defer backup.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopDispatcher(dispatcherDone)
			return ctx.Err()

		case <-backup.C:
			s.requestFlush(types.TriggerBackup)
			backup.Reset(s.settings.BackupInterval)

		case msg, ok := <-s.messages:
			if !ok {
				s.stopDispatcher(dispatcherDone)
				return types.NewAppError(types.ErrCodeLifecycleStream,
					"intake stream closed without a shutdown event", nil)
			}

			if msg.Record != nil {
				s.exporter.Enqueue(*msg.Record)
				continue
			}
			if msg.Event == nil {
				continue
			}

			event := *msg.Event
			switch event.Kind {
			case types.EventInvokeStart:
				next, flush := s.policy.InvokeStart(event.Time)
				s.policy = next
				if flush {
					s.requestFlush(types.TriggerPreInvoke)
				}
				backup.Reset(s.settings.BackupInterval)

			case types.EventInvokeEnd:
				prev := s.policy.Mode()
				next, flush := s.policy.InvokeEnd(event.Time)
				s.policy = next
				if next.Mode() != prev {
					s.logger.Info("flush mode transition",
						"from", string(prev),
						"to", string(next.Mode()),
					)
				}
				if flush {
					s.requestFlush(types.TriggerPostInvoke)
					backup.Reset(s.settings.BackupInterval)
				}

			case types.EventShutdown:
				backup.Stop()
				s.stopDispatcher(dispatcherDone)
				s.finalFlush(event.Reason)
				return nil
			}
		}
	}
}

// requestFlush hands a trigger to the dispatcher without blocking. If a
// trigger is already pending the two merge: the buffer is drained either
// way, so the cause label of the pending one stands.
func (s *Scheduler) requestFlush(trigger types.FlushTrigger) {
	select {
	case s.triggers <- trigger:
	default:
		s.logger.Debug("flush trigger coalesced", "trigger", string(trigger))
	}
}

// dispatch serializes FlushNow calls. One flush runs at a time; each gets
// its own timeout independent of the run loop's context so an in-flight
// drain finishes even while the process is winding down.
func (s *Scheduler) dispatch(done chan<- struct{}) {
	defer close(done)
	for trigger := range s.triggers {
		flushCtx, cancel := context.WithTimeout(context.Background(), s.settings.FlushTimeout)
		start := time.Now()
		err := s.exporter.FlushNow(flushCtx)
		cancel()

		dims := map[string]string{types.DimTrigger: string(trigger)}
		if err != nil {
			s.logger.Error("flush failed",
				"trigger", string(trigger),
				"error", err.Error(),
			)
			s.metrics.Count(types.MetricFlushFailure, 1, dims)
			continue
		}
		s.metrics.Count(types.MetricFlushCount, 1, dims)
		s.metrics.Duration(types.MetricFlushDuration, time.Since(start), dims)
	}
}

// stopDispatcher closes the trigger channel and waits for an in-flight
// flush to finish. No further requestFlush calls may follow.
func (s *Scheduler) stopDispatcher(done <-chan struct{}) {
	close(s.triggers)
	<-done
}

// finalFlush drains whatever is buffered under the shutdown grace budget.
// Errors are logged only; the process is terminating regardless.
func (s *Scheduler) finalFlush(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownGrace)
	defer cancel()

	dims := map[string]string{types.DimTrigger: string(types.TriggerShutdown)}
	if err := s.exporter.FlushNow(ctx); err != nil {
		s.logger.Error("shutdown flush failed",
			"reason", reason,
			"error", err.Error(),
		)
		s.metrics.Count(types.MetricFlushFailure, 1, dims)
	} else {
		s.metrics.Count(types.MetricFlushCount, 1, dims)
	}
	s.logger.Info("scheduler stopped", "reason", reason, "mode", string(s.policy.Mode()))
}
