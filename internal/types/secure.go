package types

import "log/slog"

// redactedPlaceholder replaces secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a resolved secret value while preventing accidental
// exposure. Resolved SecretsManager and Parameter Store values are carried
// as SecretString inside the materialized configuration; fmt, JSON, and
// slog output all see only a placeholder.
//
// Call Unmask to obtain the plaintext where it is genuinely needed (e.g.
// building an Authorization header for the exporter sink).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so secrets
// never appear in serialized configuration dumps.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue implements slog.LogValuer, redacting the secret in structured
// log output even when the value is passed as a raw attribute.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
