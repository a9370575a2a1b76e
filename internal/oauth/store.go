package oauth

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a CredentialStore for absent or expired records.
// Any other error is a store fault and must not be read as "not found".
var ErrNotFound = errors.New("not found")

// CredentialStore persists clients, authorization codes, per-deployment
// signing secrets and the resource URL to deployment slug mapping.
//
// Clients and codes expire on read: a record whose expiry has passed is
// deleted before the read is serviced. Puts replace existing records whole.
type CredentialStore interface {
	PutClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	DeleteClient(ctx context.Context, clientID string) error

	PutCode(ctx context.Context, code *AuthorizationCode) error
	GetCode(ctx context.Context, code string) (*AuthorizationCode, error)
	// DeleteCode removes the code and reports whether this call removed it.
	// Of several concurrent callers at most one sees true.
	DeleteCode(ctx context.Context, code string) (bool, error)

	PutSecret(ctx context.Context, slug, secret string) error
	GetSecret(ctx context.Context, slug string) (string, error)

	MapResourceToSlug(ctx context.Context, resourceURL, slug string) error
	GetSlugForResource(ctx context.Context, resourceURL string) (string, error)
}
