package config

import "fmt"

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrEnvFile indicates a failure reading or materializing the env file.
	ErrEnvFile ConfigErrorType = "ENV_FILE_FAILED"
	// ErrMaterialize indicates a failure substituting tokens in environment values.
	ErrMaterialize ConfigErrorType = "MATERIALIZE_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into the typed settings struct.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the settings failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
