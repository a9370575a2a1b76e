// Package storage implements the credential store behind the authorization
// server: an in-memory store for development and single-instance use,
// Firestore, and Postgres.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/oauth"
)

// Kind names a storage backend in configuration.
type Kind string

const (
	KindMemory    Kind = "memory"
	KindFirestore Kind = "firestore"
	KindPostgres  Kind = "postgres"
)

// Store is a credential store that can also reclaim expired records and be closed.
type Store interface {
	oauth.CredentialStore

	// PurgeExpired deletes every expired client and code and returns how many went.
	PurgeExpired(ctx context.Context) (int, error)
	Close() error
}

// clientExpiry stamps the absolute expiry written alongside a client.
func clientExpiry(now time.Time) time.Time {
	return now.Add(oauth.ClientTTL)
}

// codeExpiry falls back to the default TTL when the code carries none.
func codeExpiry(code *oauth.AuthorizationCode, now time.Time) time.Time {
	if code.ExpiresAt.IsZero() {
		return now.Add(oauth.CodeTTL)
	}
	return code.ExpiresAt
}

// storableKey reports whether a backend can hold key as text. Lookups of keys
// that could never have been written answer not found instead of failing.
func storableKey(key string) bool {
	return utf8.ValidString(key) && !strings.ContainsRune(key, 0)
}

func expired(expiresAt, now time.Time) bool {
	return expiresAt.Before(now)
}

// docKey turns an arbitrary string (a URL) into a fixed-length key safe for document IDs.
func docKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sealSecret(enc crypto.Encryptor, secret string) (string, error) {
	ct, err := enc.Encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("encrypting signing secret: %w", err)
	}
	return ct, nil
}

func openSecret(enc crypto.Encryptor, ciphertext string) (string, error) {
	pt, err := enc.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypting signing secret: %w", err)
	}
	return pt, nil
}

func cloneClient(c *oauth.Client) *oauth.Client {
	cp := *c
	cp.ClientSecret = ""
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.ResponseTypes = append([]string(nil), c.ResponseTypes...)
	cp.SecretHash = append([]byte(nil), c.SecretHash...)
	return &cp
}
