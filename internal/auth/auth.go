// Package auth turns bearer tokens into directory principals.
package auth

import (
	"context"
	"errors"
	"strings"

	"collabdir/internal/core"
)

// ErrUnauthorized is returned for a missing, malformed, expired or
// otherwise unacceptable token.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier authenticates a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (core.Principal, error)
}

// StaticVerifier accepts a fixed set of tokens. It backs local development
// and tests.
type StaticVerifier map[string]core.Principal

// NewStaticVerifier maps each token to the email it authenticates.
func NewStaticVerifier(tokens map[string]string) StaticVerifier {
	out := make(StaticVerifier, len(tokens))
	for token, email := range tokens {
		out[token] = core.Principal{Email: strings.TrimSpace(email)}
	}
	return out
}

// Verify implements Verifier.
func (v StaticVerifier) Verify(_ context.Context, token string) (core.Principal, error) {
	p, ok := v[strings.TrimSpace(token)]
	if !ok || token == "" {
		return core.Principal{}, ErrUnauthorized
	}
	return p, nil
}
