package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"collabdir/internal/core"
)

// DefaultKeysURL publishes the keys signing Firebase ID tokens as a JWK set.
const DefaultKeysURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

const (
	keyCacheTTL = time.Hour
	clockLeeway = time.Minute
)

// KeySource supplies the current signing keys.
type KeySource interface {
	Keys(ctx context.Context) (jose.JSONWebKeySet, error)
}

// StaticKeys is a fixed key set.
type StaticKeys jose.JSONWebKeySet

// Keys implements KeySource.
func (s StaticKeys) Keys(context.Context) (jose.JSONWebKeySet, error) {
	return jose.JSONWebKeySet(s), nil
}

// HTTPKeys fetches a JWK set over HTTP and caches it.
type HTTPKeys struct {
	URL    string
	Client *http.Client

	mu      sync.Mutex
	cached  jose.JSONWebKeySet
	fetched time.Time
	now     func() time.Time
}

// Keys implements KeySource.
func (h *HTTPKeys) Keys(ctx context.Context) (jose.JSONWebKeySet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	if len(h.cached.Keys) > 0 && now().Sub(h.fetched) < keyCacheTTL {
		return h.cached, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch signing keys: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch signing keys: status %d", resp.StatusCode)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode signing keys: %w", err)
	}
	h.cached = set
	h.fetched = now()
	return set, nil
}

type firebaseClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// FirebaseVerifier verifies Firebase ID tokens for one project.
type FirebaseVerifier struct {
	projectID string
	keys      KeySource
	now       func() time.Time
}

// NewFirebaseVerifier returns a verifier for projectID. A nil keys source
// fetches the public Firebase keys.
func NewFirebaseVerifier(projectID string, keys KeySource) (*FirebaseVerifier, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("firebase project id required")
	}
	if keys == nil {
		keys = &HTTPKeys{URL: DefaultKeysURL}
	}
	return &FirebaseVerifier{projectID: projectID, keys: keys, now: time.Now}, nil
}

// Verify checks the token signature, issuer, audience and lifetime and
// returns the principal named by its email claim.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (core.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Principal{}, ErrUnauthorized
	}
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil || len(parsed.Headers) == 0 {
		return core.Principal{}, fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}
	set, err := v.keys.Keys(ctx)
	if err != nil {
		return core.Principal{}, err
	}
	matches := set.Key(parsed.Headers[0].KeyID)
	if len(matches) == 0 {
		return core.Principal{}, fmt.Errorf("%w: unknown signing key", ErrUnauthorized)
	}

	var (
		std    jwt.Claims
		custom firebaseClaims
	)
	if err := parsed.Claims(matches[0].Key, &std, &custom); err != nil {
		return core.Principal{}, fmt.Errorf("%w: bad signature", ErrUnauthorized)
	}
	expected := jwt.Expected{
		Issuer:      "https://securetoken.google.com/" + v.projectID,
		AnyAudience: jwt.Audience{v.projectID},
		Time:        v.now(),
	}
	if err := std.ValidateWithLeeway(expected, clockLeeway); err != nil {
		return core.Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if std.Subject == "" {
		return core.Principal{}, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	return core.Principal{Email: strings.TrimSpace(custom.Email), Name: custom.Name}, nil
}
