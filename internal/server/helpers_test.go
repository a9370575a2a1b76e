package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/dgellow/mcp-workers/internal/ratelimit"
	"github.com/dgellow/mcp-workers/internal/storage"
)

const (
	testPassword = "open-sesame"
	testResource = "https://weather.workers.example"
	testSlug     = "weather"
	testRedirect = "https://app.example/cb"
)

type testEnv struct {
	server   *httptest.Server
	store    *storage.MemoryStorage
	handlers *AuthHandlers
	secret   string
}

type envOptions struct {
	password string
	limiter  *ratelimit.Limiter
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	enc, err := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	require.NoError(t, err)
	store, err := storage.NewMemoryStorage(enc)
	require.NoError(t, err)

	prov, err := oauth.NewProvisioner(store).Provision(context.Background(), testSlug, testResource)
	require.NoError(t, err)

	env := &testEnv{store: store, secret: prov.Secret}

	// The issuer must match the listener, so build handlers lazily behind the test server.
	var handler http.Handler
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(env.server.Close)

	issuer := env.server.URL
	h, err := NewAuthHandlers(AuthHandlersConfig{
		Issuer:    issuer,
		Registrar: oauth.NewRegistrar(store, nil, nil),
		Flow:      oauth.NewAuthorizationFlow(store, oauth.AuthorizationFlowConfig{Password: opts.password}),
		Exchange:  oauth.NewTokenExchange(store, oauth.TokenExchangeConfig{Issuer: issuer}),
		CSRF:      crypto.NewCSRFProtection([]byte("csrf-signing-key-for-tests-only!"), 10*time.Minute),
	})
	require.NoError(t, err)
	env.handlers = h
	handler = NewRouter(h, RouterConfig{RateLimiter: opts.limiter})
	return env
}

func (e *testEnv) url(path string) string {
	return e.server.URL + path
}

// registerClient stores a public client directly.
func (e *testEnv) registerClient(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.store.PutClient(context.Background(), &oauth.Client{
		ClientID:                id,
		ClientName:              "Test Client",
		RedirectURIs:            []string{testRedirect, "http://127.0.0.1/callback"},
		GrantTypes:              []string{oauth.GrantTypeAuthorizationCode},
		ResponseTypes:           []string{oauth.ResponseTypeCode},
		Scope:                   oauth.DefaultScope,
		TokenEndpointAuthMethod: oauth.AuthMethodNone,
		CreatedAt:               time.Now(),
	}))
}

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func extractCSRF(t *testing.T, body string) string {
	t.Helper()
	m := csrfPattern.FindStringSubmatch(body)
	require.Len(t, m, 2, "consent page has no csrf token")
	return m[1]
}

// noRedirectClient stops at the first redirect so tests can read Location.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
