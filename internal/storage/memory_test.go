package storage

import (
	"context"
	"testing"
	"time"

	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStorageRequiresEncryptor(t *testing.T) {
	_, err := NewMemoryStorage(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryptor is required")
}

func TestMemoryStorageCodeExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStorage(t)

	require.NoError(t, s.PutCode(ctx, sampleCode("abc", clock.Now())))

	clock.Advance(oauth.CodeTTL)
	_, err := s.GetCode(ctx, "abc")
	require.NoError(t, err, "a code is still valid at exactly its expiry")

	clock.Advance(time.Millisecond)
	_, err = s.GetCode(ctx, "abc")
	assert.ErrorIs(t, err, oauth.ErrNotFound)
}

func TestMemoryStorageCodeDefaultTTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStorage(t)

	code := sampleCode("abc", clock.Now())
	code.ExpiresAt = time.Time{}
	require.NoError(t, s.PutCode(ctx, code))

	got, err := s.GetCode(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(oauth.CodeTTL), got.ExpiresAt)
}

func TestMemoryStorageClientExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStorage(t)

	require.NoError(t, s.PutClient(ctx, sampleClient("client-1")))

	clock.Advance(oauth.ClientTTL - time.Hour)
	_, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = s.GetClient(ctx, "client-1")
	assert.ErrorIs(t, err, oauth.ErrNotFound)
}

func TestMemoryStorageReadSweepsEverything(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStorage(t)

	require.NoError(t, s.PutCode(ctx, sampleCode("a", clock.Now())))
	require.NoError(t, s.PutCode(ctx, sampleCode("b", clock.Now())))
	clock.Advance(oauth.CodeTTL + time.Second)

	_, _ = s.GetCode(ctx, "a")

	s.mu.Lock()
	remaining := len(s.codes)
	s.mu.Unlock()
	assert.Zero(t, remaining, "reading one key reclaims every expired code")
}

func TestMemoryStoragePurgeExpired(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStorage(t)

	require.NoError(t, s.PutClient(ctx, sampleClient("client-1")))
	require.NoError(t, s.PutCode(ctx, sampleCode("a", clock.Now())))
	require.NoError(t, s.PutSecret(ctx, "bundle", "secret"))

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(oauth.CodeTTL + time.Second)
	n, err = s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSecret(ctx, "bundle")
	assert.NoError(t, err, "secrets never expire")
}

func TestMemoryStorageSecretsAreEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStorage(t)

	require.NoError(t, s.PutSecret(ctx, "bundle", "super-secret-value"))

	s.mu.Lock()
	stored := s.secrets["bundle"]
	s.mu.Unlock()
	assert.NotEqual(t, "super-secret-value", stored)
	assert.NotContains(t, stored, "super-secret")
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStorage(t)

	c := sampleClient("client-1")
	require.NoError(t, s.PutClient(ctx, c))
	c.RedirectURIs[0] = "https://evil.example/cb"

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	got.RedirectURIs = append(got.RedirectURIs, "https://other.example/cb")

	again, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example/cb"}, again.RedirectURIs)
}
