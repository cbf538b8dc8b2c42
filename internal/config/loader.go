package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// loaderDeps carries the environment primitives the loading pipeline
// touches so tests can run against a synthetic environment.
type loaderDeps struct {
	lookupEnv func(string) (string, bool)
	setEnv    func(string, string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// Load builds the extension settings from the environment. The sequence is:
//
//  1. If SIDETAP_ENV_FILE names a file, read it, materialize its tokens and
//     inject entries whose keys are not already set (OS env wins over file).
//  2. Materialize ${...} tokens embedded directly in SIDETAP_-prefixed
//     environment variables.
//  3. Process the environment into typed settings and validate them.
//
// Secret references in either source are resolved through the given source;
// pass nil when configuration is known to carry no secret tokens.
func Load(ctx context.Context, source SecretSource, logger *slog.Logger) (*Settings, error) {
	return loadWithDeps(ctx, source, logger, defaultDeps())
}

func loadWithDeps(ctx context.Context, source SecretSource, logger *slog.Logger, deps loaderDeps) (*Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}
	time.Local = time.UTC

	materializer := newMaterializerWithDeps(source, logger, deps)

	if path, ok := deps.lookupEnv("SIDETAP_ENV_FILE"); ok && path != "" {
		entries, err := materializer.MaterializeFile(ctx, path)
		if err != nil {
			return nil, &ConfigError{Type: ErrEnvFile, Message: fmt.Sprintf("materializing env file %s", path), Err: err}
		}
		for key, value := range entries {
			if err := deps.setEnv(key, value); err != nil {
				return nil, &ConfigError{Type: ErrEnvFile, Message: fmt.Sprintf("setting %s from env file", key), Err: err}
			}
		}
		logger.Debug("env file applied", "path", path, "entries", len(entries))
	}

	updates, err := materializer.MaterializeEnviron(ctx)
	if err != nil {
		return nil, &ConfigError{Type: ErrMaterialize, Message: "materializing environment tokens", Err: err}
	}
	for key, value := range updates {
		if err := deps.setEnv(key, value); err != nil {
			return nil, &ConfigError{Type: ErrMaterialize, Message: fmt.Sprintf("rewriting %s", key), Err: err}
		}
	}

	var settings Settings
	if err := envconfig.Process("", &settings); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "processing environment variables", Err: err}
	}
	settings.Build = NewBuildInfo()

	if err := validator.New().Struct(&settings); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "validating settings", Err: err}
	}
	if err := settings.validateSink(); err != nil {
		return nil, err
	}

	return &settings, nil
}

// validateSink enforces the per-sink requirements that struct tags cannot
// express across fields.
func (s *Settings) validateSink() error {
	switch s.Exporter.Sink {
	case "http":
		if s.Exporter.Endpoint == "" {
			return &ConfigError{Type: ErrValidation, Message: "SIDETAP_EXPORTER_ENDPOINT is required when the sink is http"}
		}
	case "sqs":
		if s.Exporter.QueueURL == "" {
			return &ConfigError{Type: ErrValidation, Message: "SIDETAP_EXPORTER_QUEUE_URL is required when the sink is sqs"}
		}
	}
	return nil
}
