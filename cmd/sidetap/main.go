// Package main is the entrypoint for the sidetap extension process.
//
// Startup sequence:
//  1. Initialize a bootstrap logger, replaced once configuration is loaded.
//  2. Load AWS SDK configuration (region, credentials from the execution
//     environment).
//  3. Materialize configuration: env file plus SIDETAP_-prefixed variables,
//     with ${...} tokens resolved through SecretsManager / Parameter Store.
//  4. Build the sink (stdout, http, or sqs), the exporter, the intake bus,
//     the telemetry listener, the scheduler, and the optional CloudWatch
//     self-telemetry publisher.
//  5. Run everything under one errgroup. SIGTERM is translated into a
//     shutdown lifecycle event so the scheduler's final flush runs inside
//     the grace budget before the process exits.
//
// Registration with the Extensions API is assumed to be handled by the
// wrapper script that launches this process; sidetap itself only serves the
// telemetry subscription endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"sidetap/internal/config"
	"sidetap/internal/exporter"
	"sidetap/internal/intake"
	"sidetap/internal/lifecycle"
	"sidetap/internal/metrics"
	"sidetap/internal/secrets"
	"sidetap/internal/telemetryapi"
	"sidetap/internal/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sidetap failed", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	bootLogger := newLogger("info", "text")
	slog.SetDefault(bootLogger)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	resolver := secrets.NewResolver(awsCfg, bootLogger)
	settings, err := config.Load(ctx, resolver, bootLogger)
	if err != nil {
		return err
	}
	if awsCfg.Region == "" {
		awsCfg.Region = settings.AWS.Region
	}

	logger := newLogger(settings.LogLevel, settings.LogFormat)
	slog.SetDefault(logger)
	logger.Info("sidetap starting",
		"version", settings.Build.Version,
		"commit", settings.Build.Commit,
		"environment", settings.Environment,
		"sink", settings.Exporter.Sink,
	)

	var publisher *metrics.Publisher
	if settings.Exporter.MetricsEnabled {
		publisher = metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	sink, err := buildSink(settings, awsCfg, logger)
	if err != nil {
		return err
	}

	exp := exporter.New(exporter.Config{
		Sink:           sink,
		BufferCapacity: settings.Exporter.BufferCapacity,
		Logger:         logger,
		Metrics:        publisher,
	})
	bus := intake.NewBus(settings.Intake.QueueSize, logger)
	// Closed after the run group drains so the listener and signal handler
	// have stopped publishing by the time the channel goes away.
	defer bus.Close()
	listener := telemetryapi.NewServer(settings.Intake.ListenAddr, bus, logger)
	scheduler := lifecycle.New(lifecycle.Config{
		Bus:      bus,
		Exporter: exp,
		Settings: settings.Flush,
		Logger:   logger,
		Metrics:  publisher,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, groupCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return listener.Run(groupCtx)
	})
	g.Go(func() error {
		// The scheduler's return, clean or fatal, winds down the rest.
		err := scheduler.Run(groupCtx)
		cancel()
		return err
	})
	if publisher != nil {
		g.Go(func() error {
			return publisher.Run(groupCtx)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("signal received", "signal", sig.String())
			pubCtx, pubCancel := context.WithTimeout(context.Background(), settings.Flush.ShutdownGrace)
			defer pubCancel()
			if err := bus.PublishEvent(pubCtx, types.LifecycleEvent{
				Kind:   types.EventShutdown,
				Time:   time.Now().UTC(),
				Reason: sig.String(),
			}); err != nil {
				cancel()
			}
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("sidetap stopped")
	return nil
}

// buildSink constructs the exporter sink selected by configuration. The
// per-sink required fields are validated during config load, so failures
// here are construction errors only.
func buildSink(settings *config.Settings, awsCfg aws.Config, logger *slog.Logger) (exporter.Sink, error) {
	switch settings.Exporter.Sink {
	case "stdout":
		return exporter.NewStdoutSink(nil), nil
	case "http":
		return exporter.NewHTTPSink(exporter.HTTPSinkConfig{
			Endpoint:    settings.Exporter.Endpoint,
			AuthHeader:  settings.Exporter.AuthHeader,
			Compression: settings.Exporter.Compression,
			Logger:      logger,
		})
	case "sqs":
		return exporter.NewSQSSink(sqs.NewFromConfig(awsCfg), settings.Exporter.QueueURL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exporter sink %q", settings.Exporter.Sink)
	}
}

// newLogger builds the process logger. Output goes to stderr; the handler
// in the telemetry listener already avoids re-logging captured extension
// output, which keeps the two streams from feeding each other.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
