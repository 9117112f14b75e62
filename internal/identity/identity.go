// Package identity authenticates callers from bearer credentials.
// Two credential kinds are accepted: HS256 JWTs issued by the surrounding
// platform, and static API keys mapped to user ids for machine clients.
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed, expired or unknown credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Name   string
	// Method is "jwt" or "api_key".
	Method string
}

// Claims are the JWT claims read from platform-issued tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer credentials.
type Authenticator struct {
	secret  []byte
	apiKeys map[string]string // key → user id
	leeway  time.Duration
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithAPIKeys registers static API keys (key → user id).
func WithAPIKeys(keys map[string]string) Option {
	return func(a *Authenticator) { a.apiKeys = keys }
}

// WithLeeway tolerates small clock skew on exp/nbf.
func WithLeeway(d time.Duration) Option {
	return func(a *Authenticator) { a.leeway = d }
}

// NewAuthenticator creates an Authenticator. An empty secret disables JWT auth.
func NewAuthenticator(secret string, opts ...Option) *Authenticator {
	a := &Authenticator{secret: []byte(secret)}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate resolves a bearer credential (without the "Bearer " prefix).
func (a *Authenticator) Authenticate(_ context.Context, bearer string) (Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrUnauthenticated)
	}

	if userID, ok := a.matchAPIKey(bearer); ok {
		return Identity{UserID: userID, Method: "api_key"}, nil
	}
	if len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: invalid API key", ErrUnauthenticated)
	}

	parsed, err := jwt.ParseWithClaims(bearer, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(a.leeway))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Identity{
		UserID: claims.Subject,
		Email:  strings.TrimSpace(claims.Email),
		Name:   strings.TrimSpace(claims.Name),
		Method: "jwt",
	}, nil
}

// matchAPIKey compares against every key so timing does not leak which one matched.
func (a *Authenticator) matchAPIKey(candidate string) (string, bool) {
	userID := ""
	for key, id := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			userID = id
		}
	}
	return userID, userID != ""
}

// Issue signs a token for userID. Used by the CLI and tests.
func (a *Authenticator) Issue(userID, email string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
