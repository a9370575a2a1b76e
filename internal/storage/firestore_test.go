package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreStorageConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("missing GCP project ID", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, "", "(default)", "mcp_workers", testEncryptor(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "projectID is required")
	})

	t.Run("short encryption key", func(t *testing.T) {
		_, err := crypto.NewEncryptor([]byte("short"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "key must be 32 bytes")
	})

	t.Run("nil encryptor", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, "test-project", "(default)", "mcp_workers", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "encryptor is required")
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, "test-project", "(default)", "", testEncryptor(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "collection is required")
	})
}

func TestFirestoreDocConversion(t *testing.T) {
	c := sampleClient("client-1")
	c.SecretHash = []byte("hash")
	c.ExpiresAt = baseTime.Add(oauth.ClientTTL)
	assert.Equal(t, c, clientToDoc(c).toClient())

	code := sampleCode("abc", baseTime)
	assert.Equal(t, code, codeToDoc(code).toCode())
}

func TestDocKeyIsStableAndOpaque(t *testing.T) {
	k1 := docKey("https://bundle.example/mcp")
	k2 := docKey("https://bundle.example/mcp")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
	assert.NotContains(t, k1, "/")
	assert.NotEqual(t, k1, docKey("https://bundle.example/"))
}

func TestCodeExpiryHelpers(t *testing.T) {
	now := baseTime
	assert.False(t, expired(now, now))
	assert.True(t, expired(now.Add(-time.Nanosecond), now))
	assert.Equal(t, now.Add(oauth.ClientTTL), clientExpiry(now))
}

func TestFirestoreDocIDValidation(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"0a1b2c3d", true},
		{"client-1", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"\xff", false},
		{"nul\x00", false},
		{"__reserved__", false},
		{string(make([]byte, 1501)), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, validDocID(tt.id), "%q", tt.id)
	}
}

// Lookups of ids Firestore would reject never reach the client.
func TestFirestoreMalformedIDsAreNotFound(t *testing.T) {
	ctx := context.Background()
	s := &FirestoreStorage{encryptor: testEncryptor(t), now: func() time.Time { return baseTime }}

	for _, id := range []string{"", "\xff", "a/b", "__x__"} {
		_, err := s.GetCode(ctx, id)
		assert.ErrorIs(t, err, oauth.ErrNotFound, "code %q", id)
		_, err = s.GetClient(ctx, id)
		assert.ErrorIs(t, err, oauth.ErrNotFound, "client %q", id)
		_, err = s.GetSecret(ctx, id)
		assert.ErrorIs(t, err, oauth.ErrNotFound, "secret %q", id)

		deleted, err := s.DeleteCode(ctx, id)
		require.NoError(t, err)
		assert.False(t, deleted)
		require.NoError(t, s.DeleteClient(ctx, id))
	}
	assert.Error(t, s.PutSecret(ctx, "a/b", "secret"))
}

// Runs only against the emulator: FIRESTORE_EMULATOR_HOST=localhost:8080
func TestFirestoreStorageContract(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		collection := fmt.Sprintf("mcp_workers_test_%d", time.Now().UnixNano())
		s, err := NewFirestoreStorage(context.Background(), "test-project", "", collection, testEncryptor(t))
		require.NoError(t, err)
		s.now = func() time.Time { return baseTime }
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
