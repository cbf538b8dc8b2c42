package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"sidetap/internal/types"
)

// maxLookupLen is the largest number of distinct identifiers allowed in one
// batched store call. It is the shared limit of the SecretsManager
// BatchGetSecretValue and SSM GetParameters APIs.
const maxLookupLen = 10

// secretsManagerAPI is the subset of the SecretsManager SDK client used by
// the resolver. This interface enables testing with a mock client.
type secretsManagerAPI interface {
	BatchGetSecretValue(ctx context.Context, params *secretsmanager.BatchGetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error)
}

// ssmAPI is the subset of the SSM SDK client used by the resolver.
type ssmAPI interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// Resolver turns parsed secret references into plain strings. It owns the
// process-wide payload cache: each distinct base ARN is retrieved from its
// store at most once per process lifetime, no matter how many tokens
// reference it or how many configuration sources trigger resolution.
//
// Resolution is all-or-nothing. A partially resolved configuration must
// never reach the exporter, so any missing ARN, denied access, or failed
// JSON extraction fails the whole pass.
type Resolver struct {
	sm     secretsManagerAPI
	ps     ssmAPI
	cache  map[string]string // base ARN -> raw payload
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by real AWS clients built from the
// supplied SDK configuration.
func NewResolver(cfg aws.Config, logger *slog.Logger) *Resolver {
	return newResolverWithClients(
		secretsmanager.NewFromConfig(cfg),
		ssm.NewFromConfig(cfg),
		logger,
	)
}

// newResolverWithClients is the injectable constructor used by tests.
func newResolverWithClients(sm secretsManagerAPI, ps ssmAPI, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		sm:     sm,
		ps:     ps,
		cache:  make(map[string]string),
		logger: logger,
	}
}

// Resolve fetches every reference's payload and returns a mapping from each
// original token to its resolved string. References sharing a base ARN
// reuse one retrieval; ARNs already in the cache are not fetched again.
func (r *Resolver) Resolve(ctx context.Context, refs []Reference) (map[string]string, error) {
	start := time.Now()

	// Partition uncached base ARNs by store.
	var smARNs, psARNs []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		if seen[ref.ARN] {
			continue
		}
		seen[ref.ARN] = true
		if _, ok := r.cache[ref.ARN]; ok {
			continue
		}
		switch ref.Store {
		case StoreSecretsManager:
			smARNs = append(smARNs, ref.ARN)
		case StoreParameterStore:
			psARNs = append(psARNs, ref.ARN)
		}
	}

	if err := r.fetchSecrets(ctx, smARNs); err != nil {
		return nil, err
	}
	if err := r.fetchParameters(ctx, psARNs); err != nil {
		return nil, err
	}

	// Map tokens to resolved values, extracting JSON fields where requested.
	resolved := make(map[string]string, len(refs))
	for _, ref := range refs {
		payload, ok := r.cache[ref.ARN]
		if !ok {
			// The store accepted the batch but omitted the entry.
			return nil, types.NewAppError(types.ErrCodeParameterNotFound,
				"secret store returned no value for "+ref.ARN, nil)
		}
		if ref.JSONKey == "" {
			resolved[ref.Token] = payload
			continue
		}
		value, err := extractJSONKey(payload, ref.JSONKey, ref.ARN)
		if err != nil {
			return nil, err
		}
		resolved[ref.Token] = value
	}

	r.logger.DebugContext(ctx, "resolved secret references",
		"tokens", len(refs),
		"fetched", len(smARNs)+len(psARNs),
		"duration", time.Since(start),
	)

	return resolved, nil
}

// fetchSecrets retrieves SecretsManager payloads in sequential batches of
// at most maxLookupLen distinct ARNs and populates the cache.
func (r *Resolver) fetchSecrets(ctx context.Context, arns []string) error {
	for i := 0; i < len(arns); i += maxLookupLen {
		// Check context before each batch.
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during secret retrieval: %w", ctx.Err())
		default:
		}

		chunk := arns[i:min(i+maxLookupLen, len(arns))]
		out, err := r.sm.BatchGetSecretValue(ctx, &secretsmanager.BatchGetSecretValueInput{
			SecretIdList: chunk,
		})
		if err != nil {
			return wrapStoreError("SecretsManager BatchGetSecretValue", err)
		}

		if len(out.Errors) > 0 {
			return batchEntryError(out.Errors[0].ErrorCode, out.Errors[0].SecretId, out.Errors[0].Message)
		}

		for _, sv := range out.SecretValues {
			if sv.ARN == nil || sv.SecretString == nil {
				return types.NewAppError(types.ErrCodeParameterNotFound,
					"secret value missing ARN or string payload", nil)
			}
			r.cache[requestedID(*sv.ARN, chunk)] = *sv.SecretString
		}
	}
	return nil
}

// requestedID maps a returned secret ARN back to the identifier the batch
// asked for. BatchGetSecretValue echoes the full ARN, random suffix
// included, even when the request used a partial ARN; the cache is keyed by
// what callers reference, not by what the store echoes.
func requestedID(returned string, chunk []string) string {
	for _, id := range chunk {
		if id == returned || strings.HasPrefix(returned, id+"-") {
			return id
		}
	}
	return returned
}

// fetchParameters retrieves Parameter Store values. The SSM API accepts
// full parameter ARNs as names and decrypts SecureString values server
// side.
func (r *Resolver) fetchParameters(ctx context.Context, arns []string) error {
	for i := 0; i < len(arns); i += maxLookupLen {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during parameter retrieval: %w", ctx.Err())
		default:
		}

		chunk := arns[i:min(i+maxLookupLen, len(arns))]
		out, err := r.ps.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          chunk,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return wrapStoreError("SSM GetParameters", err)
		}

		if len(out.InvalidParameters) > 0 {
			return types.NewAppError(types.ErrCodeParameterNotFound,
				"SSM parameters not found: "+strings.Join(out.InvalidParameters, ", "), nil)
		}

		for _, p := range out.Parameters {
			if p.ARN == nil || p.Value == nil {
				return types.NewAppError(types.ErrCodeParameterNotFound,
					"SSM parameter missing ARN or value", nil)
			}
			r.cache[*p.ARN] = *p.Value
		}
	}
	return nil
}

// extractJSONKey parses a secret payload as a JSON object and returns the
// named field. String fields pass through unchanged; other value kinds are
// re-encoded as JSON text.
func extractJSONKey(payload, key, arn string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return "", types.NewAppError(types.ErrCodeSecretNotJSON,
			"secret "+arn+" is not a JSON object", err)
	}
	value, ok := obj[key]
	if !ok {
		return "", types.NewAppError(types.ErrCodeSecretKeyNotFound,
			fmt.Sprintf("secret %s has no key %q", arn, key), nil)
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeSecretNotJSON,
			fmt.Sprintf("secret %s key %q is not encodable", arn, key), err)
	}
	return string(encoded), nil
}

// batchEntryError maps a per-entry BatchGetSecretValue error onto the
// startup error taxonomy.
func batchEntryError(code, secretID, message *string) error {
	detail := aws.ToString(secretID) + ": " + aws.ToString(message)
	switch aws.ToString(code) {
	case "AccessDeniedException":
		return types.NewAppError(types.ErrCodeStoreAccessDenied,
			"access denied to secret "+detail, nil)
	case "ResourceNotFoundException":
		return types.NewAppError(types.ErrCodeParameterNotFound,
			"secret not found "+detail, nil)
	}
	return types.NewAppError(types.ErrCodeParameterNotFound,
		"secret lookup failed "+detail, nil)
}

// wrapStoreError classifies a whole-call store failure. Denied credentials
// surface as access errors; anything else stays a generic wrapped error
// (startup treats both as fatal).
func wrapStoreError(op string, err error) error {
	if strings.Contains(err.Error(), "AccessDenied") {
		return types.NewAppError(types.ErrCodeStoreAccessDenied, op+" was denied", err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
