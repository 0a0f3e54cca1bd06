// Package auth holds bearer-token authentication and scope checks for the
// non-secure gateway.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Scopes understood by the gateway. "*" grants everything.
const (
	ScopeSMC       = "smc:rw"
	ScopeMemRead   = "mem:ro"
	ScopeMemWrite  = "mem:rw"
	ScopeMonitorRO = "monitor:ro"
	ScopeAll       = "*"
)

// ScopeInfo describes a scope for operators picking token grants.
type ScopeInfo struct {
	Scope       string
	Description string
}

// KnownScopes lists every scope the gateway checks, broadest first.
func KnownScopes() []ScopeInfo {
	return []ScopeInfo{
		{ScopeAll, "Full administrative access (all scopes)"},
		{ScopeSMC, "Trap into the monitor (POST /smc); implies monitor:ro"},
		{ScopeMemWrite, "Write the non-secure window; implies mem:ro"},
		{ScopeMemRead, "Read the non-secure window"},
		{ScopeMonitorRO, "Read services, the call journal and the event stream"},
	}
}

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

// GenerateToken returns a fresh random bearer token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "tsm_" + hex.EncodeToString(b), nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
// If apiKey matches, it authenticates with scope "*".
func Authenticate(presented string, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, apiKey) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read. A caller that may trap into the monitor may also
	// watch it.
	if _, ok := out[ScopeMemWrite]; ok {
		out[ScopeMemRead] = struct{}{}
	}
	if _, ok := out[ScopeSMC]; ok {
		out[ScopeMonitorRO] = struct{}{}
	}
	return out
}

// HasAnyScope reports whether p holds "*" or any of required.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
