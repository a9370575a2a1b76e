package oauth

import (
	"slices"
	"time"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	ResponseTypeCode           = "code"
	CodeChallengeMethodS256    = "S256"
	DefaultScope               = "mcp"
	DefaultClientName          = "Unknown Client"

	AuthMethodClientSecretPost = "client_secret_post"
	AuthMethodNone             = "none"

	// CodeTTL is how long an authorization code stays exchangeable.
	CodeTTL = 600 * time.Second
	// ClientTTL is how long a registered client is kept.
	ClientTTL = 365 * 24 * time.Hour
)

// Client is a dynamically registered OAuth client.
type Client struct {
	ClientID                string
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	Scope                   string
	TokenEndpointAuthMethod string

	// SecretHash is the bcrypt hash of the client secret, empty for public clients.
	SecretHash []byte
	// ClientSecret holds the plaintext only on the record returned by Register.
	ClientSecret string

	CreatedAt time.Time
	// ExpiresAt is stamped by the store when the client is written.
	ExpiresAt time.Time
}

// HasRedirectURI reports exact membership, no normalization.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AuthorizationCode is a single-use grant bound to a PKCE challenge and a resource.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	Resource            string
	State               string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether expiresAt is strictly before now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}
