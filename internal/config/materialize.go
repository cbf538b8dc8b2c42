package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	"sidetap/internal/secrets"
	"sidetap/internal/types"
)

// tokenPattern matches ${...} substitution tokens inside configuration
// values. The token body is either an environment variable name or a
// secret-store ARN (optionally carrying a #key selector).
var tokenPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// envPrefix restricts environment scanning: only the extension's own
// variables are examined for secret-reference tokens, never the whole
// process environment.
const envPrefix = "SIDETAP_"

// SecretSource resolves parsed secret references to plain strings. The
// production implementation is *secrets.Resolver; tests inject fakes.
type SecretSource interface {
	Resolve(ctx context.Context, refs []secrets.Reference) (map[string]string, error)
}

// Materializer expands ${...} tokens in configuration values. Substitution
// is purely textual: a value may embed any number of tokens (for example a
// header assembled from two secrets) and every one of them must resolve
// before the value is considered materialized. Any unresolvable token fails
// the whole pass; materialization is all-or-nothing.
type Materializer struct {
	source SecretSource
	logger *slog.Logger
	deps   loaderDeps
}

// NewMaterializer creates a Materializer that resolves secret references
// through the given source and environment tokens from the OS environment.
func NewMaterializer(source SecretSource, logger *slog.Logger) *Materializer {
	return newMaterializerWithDeps(source, logger, defaultDeps())
}

func newMaterializerWithDeps(source SecretSource, logger *slog.Logger, deps loaderDeps) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		source: source,
		logger: logger,
		deps:   deps,
	}
}

// dollarMask hides dollar signs from godotenv while it parses an env file.
// godotenv expands $VAR and ${VAR} during parsing, replacing unknown names
// with the empty string; token resolution belongs to the materializer, so
// every dollar sign is masked before parsing and restored afterwards. NUL
// cannot appear in an env file, which makes it a collision-free mask.
const dollarMask = "\x00"

// MaterializeFile reads a newline-delimited KEY=VALUE file (#-comments
// ignored) and returns its entries with every token substituted. Entries
// whose key is already present in the environment are skipped before any
// substitution work: the priority chain is OS environment over env file,
// and skipping early avoids fetching secrets that would be discarded.
func (m *Materializer) MaterializeFile(ctx context.Context, path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}

	parsed, err := godotenv.Unmarshal(strings.ReplaceAll(string(raw), "$", dollarMask))
	if err != nil {
		return nil, fmt.Errorf("parsing env file %s: %w", path, err)
	}

	entries := make(map[string]string, len(parsed))
	for key, value := range parsed {
		if _, exists := m.deps.lookupEnv(key); exists {
			continue
		}
		entries[key] = strings.ReplaceAll(value, dollarMask, "$")
	}

	return m.substituteAll(ctx, entries)
}

// MaterializeEnviron scans the extension's own environment variables
// (envPrefix) for values embedding substitution tokens and returns the
// rewritten values. Only changed entries are returned; the caller injects
// them back into the environment before typed settings are processed.
func (m *Materializer) MaterializeEnviron(ctx context.Context) (map[string]string, error) {
	entries := make(map[string]string)
	for _, kv := range m.deps.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		if strings.Contains(value, "${") {
			entries[key] = value
		}
	}

	substituted, err := m.substituteAll(ctx, entries)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]string, len(substituted))
	for key, value := range substituted {
		if value != entries[key] {
			updates[key] = value
		}
	}
	return updates, nil
}

// substituteAll resolves every token across all entries, then rewrites the
// values. Tokens are collected up front so that secret references can be
// resolved in one batched pass and so that a single bad token anywhere
// fails materialization before any value is produced.
func (m *Materializer) substituteAll(ctx context.Context, entries map[string]string) (map[string]string, error) {
	tokenValues := make(map[string]string)
	var refs []secrets.Reference

	for _, value := range entries {
		for _, match := range tokenPattern.FindAllStringSubmatch(value, -1) {
			token := match[1]
			if _, done := tokenValues[token]; done {
				continue
			}

			if secrets.IsReferenceToken(token) {
				ref, err := secrets.ParseReference(token)
				if err != nil {
					return nil, err
				}
				refs = append(refs, ref)
				// Placeholder so the token is only parsed once; the real
				// value is filled in after resolution.
				tokenValues[token] = ""
				continue
			}

			envValue, ok := m.deps.lookupEnv(token)
			if !ok {
				return nil, types.NewAppError(types.ErrCodeUnresolvedToken,
					fmt.Sprintf("token %q is neither a known environment variable nor a secret reference", token), nil)
			}
			tokenValues[token] = envValue
		}
	}

	if len(refs) > 0 {
		if m.source == nil {
			return nil, types.NewAppError(types.ErrCodeUnresolvedToken,
				"configuration contains secret references but no secret source is configured", nil)
		}
		resolved, err := m.source.Resolve(ctx, refs)
		if err != nil {
			return nil, err
		}
		for token, value := range resolved {
			tokenValues[token] = value
		}
	}

	out := make(map[string]string, len(entries))
	for key, value := range entries {
		out[key] = tokenPattern.ReplaceAllStringFunc(value, func(match string) string {
			return tokenValues[match[2:len(match)-1]]
		})
	}
	return out, nil
}
