package storage

import (
	"testing"
	"time"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testEncryptor(t *testing.T) crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	require.NoError(t, err)
	return enc
}

func newTestMemoryStorage(t *testing.T) (*MemoryStorage, *testClock) {
	t.Helper()
	clock := &testClock{t: baseTime}
	s, err := NewMemoryStorage(testEncryptor(t))
	require.NoError(t, err)
	return s.WithClock(clock.Now), clock
}

func sampleClient(id string) *oauth.Client {
	return &oauth.Client{
		ClientID:                id,
		ClientName:              "Test Client",
		RedirectURIs:            []string{"https://app.example/cb"},
		GrantTypes:              []string{oauth.GrantTypeAuthorizationCode},
		ResponseTypes:           []string{oauth.ResponseTypeCode},
		Scope:                   oauth.DefaultScope,
		TokenEndpointAuthMethod: oauth.AuthMethodNone,
		CreatedAt:               baseTime,
	}
}

func sampleCode(code string, now time.Time) *oauth.AuthorizationCode {
	return &oauth.AuthorizationCode{
		Code:                code,
		ClientID:            "client-1",
		RedirectURI:         "https://app.example/cb",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: oauth.CodeChallengeMethodS256,
		Scope:               oauth.DefaultScope,
		Resource:            "https://bundle.example/mcp",
		State:               "xyz",
		CreatedAt:           now,
		ExpiresAt:           now.Add(oauth.CodeTTL),
	}
}
