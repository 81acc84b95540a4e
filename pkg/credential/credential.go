// Package credential resolves the API key used for a single submission.
package credential

import (
	"os"
	"strings"
)

// Source supplies a fallback credential. Implementations are consulted on every call.
type Source interface {
	Credential() string
}

// SourceFunc adapts a function to Source.
type SourceFunc func() string

func (f SourceFunc) Credential() string { return f() }

// EnvSource reads the first non-empty variable in Keys.
type EnvSource struct {
	Keys []string
}

// DefaultEnvKeys are consulted when an EnvSource has no keys configured.
var DefaultEnvKeys = []string{"GEMINI_API_KEY", "API_KEY"}

// Credential implements Source. The environment is read fresh every time.
func (e EnvSource) Credential() string {
	keys := e.Keys
	if len(keys) == 0 {
		keys = DefaultEnvKeys
	}
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Resolve returns the explicit value when set, else the fallback's value.
// The result is empty when neither yields a credential.
func Resolve(explicit string, fallback Source) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if fallback == nil {
		return ""
	}
	return strings.TrimSpace(fallback.Credential())
}

// Mask renders a credential for logs, keeping only the last four characters.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 4) + key[len(key)-4:]
}
