// Package accesstoken signs and verifies the HS256 access tokens handed to
// deployed workers. Each deployment has its own secret; the worker verifies
// tokens with the same secret, so verification never trusts the header's alg.
package accesstoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dgellow/mcp-workers/internal/crypto"
)

const (
	// Lifetime of every issued access token.
	Lifetime = time.Hour

	// Subject is the single user this server issues tokens for.
	Subject = "owner"

	secretBytes  = 64
	tokenIDBytes = 16
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed payload. Audience is a single string, the resource URL.
type Claims struct {
	Issuer    string           `json:"iss,omitempty"`
	Subject   string           `json:"sub,omitempty"`
	Audience  string           `json:"aud,omitempty"`
	Scope     string           `json:"scope,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
	ID        string           `json:"jti,omitempty"`
}

var _ jwt.Claims = (*Claims)(nil)

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *Claims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *Claims) GetSubject() (string, error)                  { return c.Subject, nil }

func (c *Claims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// Codec signs and verifies tokens against a clock.
type Codec struct {
	now func() time.Time
}

// New returns a Codec using the wall clock.
func New() *Codec {
	return &Codec{now: time.Now}
}

// WithClock returns a copy of c reading time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{now: now}
}

// NewClaims builds the claims for a token issued now.
func (c *Codec) NewClaims(issuer, audience, scope string) (*Claims, error) {
	jti, err := GenerateTokenID()
	if err != nil {
		return nil, err
	}
	iat := c.now().Truncate(time.Second)
	return &Claims{
		Issuer:    issuer,
		Subject:   Subject,
		Audience:  audience,
		Scope:     scope,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(Lifetime)),
		ID:        jti,
	}, nil
}

// Sign produces header.payload.signature with HMAC-SHA256 under secret.
func (c *Codec) Sign(claims *Claims, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature with secret and rejects tokens whose exp is
// strictly before now. A token without exp is accepted.
func (c *Codec) Verify(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: no verification secret", ErrInvalidToken)
	}
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now().Truncate(time.Second) }),
		// exp is whole seconds, so a one second leeway makes exp == now still valid.
		jwt.WithLeeway(time.Second),
		// reject non-canonical base64 so that every signature string has one encoding
		jwt.WithStrictDecoding(),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecret returns a fresh per-deployment signing secret (128 hex chars).
func GenerateSecret() (string, error) {
	return crypto.RandomHex(secretBytes)
}

// GenerateTokenID returns a random jti (32 hex chars).
func GenerateTokenID() (string, error) {
	return crypto.RandomHex(tokenIDBytes)
}
