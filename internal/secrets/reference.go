// Package secrets resolves secret-store references embedded in the
// extension configuration. A reference is an ARN-shaped token naming a
// SecretsManager secret or an SSM Parameter Store parameter; resolution
// happens once at startup, in bounded batches, and resolved values are
// cached for the process lifetime so the invocation hot path never touches
// a secret store.
package secrets

import (
	"strings"

	"sidetap/internal/types"
)

// Store identifies which external secret store a reference points at.
type Store string

const (
	// StoreSecretsManager is AWS Secrets Manager.
	StoreSecretsManager Store = "secretsmanager"
	// StoreParameterStore is AWS Systems Manager Parameter Store.
	StoreParameterStore Store = "ssm"
)

// jsonKeySeparator splits a SecretsManager ARN from an optional JSON field
// selector, e.g. "arn:...:secret:creds#api_key".
const jsonKeySeparator = "#"

// Reference is a parsed secret-store token. It is immutable and only lives
// long enough to drive one resolution pass; afterwards only the resolved
// string survives, keyed by Token.
type Reference struct {
	// Store is the external store the ARN belongs to.
	Store Store
	// ARN is the base ARN with any JSON key selector stripped. Distinct
	// tokens sharing a base ARN share one retrieval.
	ARN string
	// JSONKey selects one field of a JSON-object secret. Only ever set for
	// SecretsManager references.
	JSONKey string
	// Token is the original token text, used to map the resolved value back
	// into the configuration.
	Token string
}

// IsReferenceToken reports whether a substitution token names a secret
// store entry rather than an environment variable.
func IsReferenceToken(token string) bool {
	return strings.HasPrefix(token, "arn:")
}

// ParseReference parses a raw "arn:..." token into a Reference. Malformed
// ARNs, unknown services, and JSON key selectors on Parameter Store ARNs
// all fail with a malformed-token error.
func ParseReference(token string) (Reference, error) {
	raw := token
	jsonKey := ""

	if idx := strings.LastIndex(raw, jsonKeySeparator); idx >= 0 {
		jsonKey = raw[idx+len(jsonKeySeparator):]
		raw = raw[:idx]
		if jsonKey == "" {
			return Reference{}, types.NewAppError(types.ErrCodeMalformedToken,
				"empty JSON key selector in secret reference "+token, nil)
		}
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 6 || parts[0] != "arn" {
		return Reference{}, types.NewAppError(types.ErrCodeMalformedToken,
			"not a valid ARN: "+raw, nil)
	}
	for _, p := range parts[1:5] {
		if p == "" {
			return Reference{}, types.NewAppError(types.ErrCodeMalformedToken,
				"ARN has empty segments: "+raw, nil)
		}
	}

	service := parts[2]
	resource := strings.Join(parts[5:], ":")

	switch Store(service) {
	case StoreSecretsManager:
		// Resource shape: secret:NAME-SUFFIX
		name, ok := strings.CutPrefix(resource, "secret:")
		if !ok || name == "" {
			return Reference{}, types.NewAppError(types.ErrCodeMalformedToken,
				"SecretsManager ARN resource must be secret:NAME: "+raw, nil)
		}
		return Reference{
			Store:   StoreSecretsManager,
			ARN:     raw,
			JSONKey: jsonKey,
			Token:   token,
		}, nil

	case StoreParameterStore:
		if jsonKey != "" {
			return Reference{}, types.NewAppError(types.ErrCodeMalformedToken,
				"JSON key selectors are not supported for Parameter Store: "+token, nil)
		}
		// Resource shape: parameter/NAME
		name, ok := strings.CutPrefix(resource, "parameter/")
		if !ok || name == "" {
			return Reference{}, types.NewAppError(types.ErrCodeMalformedToken,
				"SSM ARN resource must be parameter/NAME: "+raw, nil)
		}
		return Reference{
			Store: StoreParameterStore,
			ARN:   raw,
			Token: token,
		}, nil
	}

	return Reference{}, types.NewAppError(types.ErrCodeMalformedToken,
		"unknown secret store service "+service+" in "+raw, nil)
}
