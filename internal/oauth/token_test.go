package oauth

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/mcp-workers/internal/accesstoken"
	"github.com/dgellow/mcp-workers/internal/crypto"
)

const (
	testIssuer   = "https://auth.example"
	testResource = "https://worker.example"
)

type exchangeFixture struct {
	store    *fakeStore
	flow     *AuthorizationFlow
	exchange *TokenExchange
	secret   string
	now      time.Time
}

func newExchangeFixture(t *testing.T) *exchangeFixture {
	t.Helper()
	f := &exchangeFixture{store: newFakeStore(), now: testNow}
	clock := func() time.Time { return f.now }

	registerTestClient(t, f.store)

	prov, err := NewProvisioner(f.store).Provision(context.Background(), "weather", testResource)
	require.NoError(t, err)
	f.secret = prov.Secret

	f.flow = NewAuthorizationFlow(f.store, AuthorizationFlowConfig{Now: clock})
	f.exchange = NewTokenExchange(f.store, TokenExchangeConfig{
		Issuer: testIssuer,
		Codec:  accesstoken.New().WithClock(clock),
		Now:    clock,
	})
	return f
}

func (f *exchangeFixture) issueCode(t *testing.T, mutate func(*AuthorizeParams)) string {
	t.Helper()
	p := validParams()
	if mutate != nil {
		mutate(&p)
	}
	valid, err := ValidateAuthorizeParams(p)
	require.NoError(t, err)
	code, err := f.flow.GenerateAuthCode(context.Background(), valid)
	require.NoError(t, err)
	return code.Code
}

func tokenRequest(code string) TokenRequest {
	return TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://app.example/cb",
		ClientID:     "client-1",
		CodeVerifier: testVerifier,
	}
}

func requireOAuthError(t *testing.T, err error, code ErrorCode, description string) {
	t.Helper()
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, code, oerr.Code)
	if description != "" {
		assert.Equal(t, description, oerr.Description)
	}
}

func TestExchange_HappyPath(t *testing.T) {
	f := newExchangeFixture(t)
	code := f.issueCode(t, nil)

	resp, err := f.exchange.Exchange(context.Background(), tokenRequest(code))
	require.NoError(t, err)

	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "mcp", resp.Scope)

	claims, err := accesstoken.New().WithClock(func() time.Time { return f.now }).Verify(resp.AccessToken, f.secret)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, accesstoken.Subject, claims.Subject)
	assert.Equal(t, testResource, claims.Audience)
	assert.Equal(t, "mcp", claims.Scope)
	assert.Equal(t, testNow.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, testNow.Unix()+3600, claims.ExpiresAt.Unix())
	assert.Len(t, claims.ID, 32)

	assert.False(t, f.store.hasCode(code))
}

func TestExchange_AudienceComesFromCode(t *testing.T) {
	f := newExchangeFixture(t)
	_, err := NewProvisioner(f.store).Provision(context.Background(), "other", "https://other.example")
	require.NoError(t, err)

	code := f.issueCode(t, func(p *AuthorizeParams) { p.Resource = "https://other.example/mcp" })

	resp, err := f.exchange.Exchange(context.Background(), tokenRequest(code))
	require.NoError(t, err)

	otherSecret := f.store.secrets["other"]
	claims, err := accesstoken.New().WithClock(func() time.Time { return f.now }).Verify(resp.AccessToken, otherSecret)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/mcp", claims.Audience)

	_, err = accesstoken.New().Verify(resp.AccessToken, f.secret)
	assert.Error(t, err, "token for one deployment must not verify against another's secret")
}

func TestExchange_SingleUse(t *testing.T) {
	f := newExchangeFixture(t)
	code := f.issueCode(t, nil)

	_, err := f.exchange.Exchange(context.Background(), tokenRequest(code))
	require.NoError(t, err)

	_, err = f.exchange.Exchange(context.Background(), tokenRequest(code))
	requireOAuthError(t, err, ErrInvalidGrant, "invalid or expired authorization code")
}

func TestExchange_ConcurrentAttemptsSucceedAtMostOnce(t *testing.T) {
	f := newExchangeFixture(t)
	code := f.issueCode(t, nil)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.exchange.Exchange(context.Background(), tokenRequest(code))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.Equal(t, ErrInvalidGrant, AsError(err).Code)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestExchange_OrderedChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported grant type comes first", func(t *testing.T) {
		f := newExchangeFixture(t)
		req := tokenRequest("does-not-exist")
		req.GrantType = "refresh_token"
		_, err := f.exchange.Exchange(ctx, req)
		requireOAuthError(t, err, ErrUnsupportedGrantType, "")
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newExchangeFixture(t)
		_, err := f.exchange.Exchange(ctx, tokenRequest("does-not-exist"))
		requireOAuthError(t, err, ErrInvalidGrant, "invalid or expired authorization code")
	})

	t.Run("expired code is deleted", func(t *testing.T) {
		f := newExchangeFixture(t)
		code := f.issueCode(t, nil)
		f.now = f.now.Add(601 * time.Second)

		_, err := f.exchange.Exchange(ctx, tokenRequest(code))
		requireOAuthError(t, err, ErrInvalidGrant, "authorization code expired")
		assert.False(t, f.store.hasCode(code))
	})

	t.Run("code at exact expiry is still valid", func(t *testing.T) {
		f := newExchangeFixture(t)
		code := f.issueCode(t, nil)
		f.now = f.now.Add(600 * time.Second)

		_, err := f.exchange.Exchange(ctx, tokenRequest(code))
		assert.NoError(t, err)
	})

	t.Run("client_id mismatch keeps the code", func(t *testing.T) {
		f := newExchangeFixture(t)
		code := f.issueCode(t, nil)

		req := tokenRequest(code)
		req.ClientID = "someone-else"
		_, err := f.exchange.Exchange(ctx, req)
		requireOAuthError(t, err, ErrInvalidGrant, "client_id mismatch")
		assert.True(t, f.store.hasCode(code))

		// the rightful client can still redeem it afterwards
		_, err = f.exchange.Exchange(ctx, tokenRequest(code))
		assert.NoError(t, err)
	})

	t.Run("redirect_uri mismatch", func(t *testing.T) {
		f := newExchangeFixture(t)
		code := f.issueCode(t, nil)

		req := tokenRequest(code)
		req.RedirectURI = "http://localhost:6274/callback"
		_, err := f.exchange.Exchange(ctx, req)
		requireOAuthError(t, err, ErrInvalidGrant, "redirect_uri mismatch")
		assert.True(t, f.store.hasCode(code))
	})

	t.Run("wrong verifier", func(t *testing.T) {
		f := newExchangeFixture(t)
		code := f.issueCode(t, nil)

		for _, v := range []string{"", "wrong", testVerifier + "x", ChallengeS256(testVerifier)} {
			req := tokenRequest(code)
			req.CodeVerifier = v
			_, err := f.exchange.Exchange(ctx, req)
			requireOAuthError(t, err, ErrInvalidGrant, "PKCE code_verifier verification failed")
		}
		assert.True(t, f.store.hasCode(code))
	})

	t.Run("unknown resource consumes the code", func(t *testing.T) {
		f := newExchangeFixture(t)
		code := f.issueCode(t, func(p *AuthorizeParams) { p.Resource = "https://nowhere.example" })

		_, err := f.exchange.Exchange(ctx, tokenRequest(code))
		requireOAuthError(t, err, ErrInvalidGrant, "unknown resource")
		assert.False(t, f.store.hasCode(code))
	})

	t.Run("missing signing key", func(t *testing.T) {
		f := newExchangeFixture(t)
		require.NoError(t, f.store.MapResourceToSlug(ctx, "https://unsigned.example", "unsigned"))
		code := f.issueCode(t, func(p *AuthorizeParams) { p.Resource = "https://unsigned.example" })

		_, err := f.exchange.Exchange(ctx, tokenRequest(code))
		requireOAuthError(t, err, ErrServerError, "JWT signing key not found")
		assert.Equal(t, 400, AsError(err).Status())
		assert.False(t, f.store.hasCode(code))
	})
}

func TestExchange_ClientSecret(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t)

	hash, err := crypto.HashClientSecret("s3cret")
	require.NoError(t, err)
	require.NoError(t, f.store.PutClient(ctx, &Client{
		ClientID:     "client-1",
		RedirectURIs: []string{"https://app.example/cb"},
		SecretHash:   hash,
	}))

	code := f.issueCode(t, nil)

	req := tokenRequest(code)
	req.ClientSecret = "wrong"
	_, err = f.exchange.Exchange(ctx, req)
	requireOAuthError(t, err, ErrInvalidClient, "")
	assert.True(t, f.store.hasCode(code))

	req.ClientSecret = "s3cret"
	_, err = f.exchange.Exchange(ctx, req)
	assert.NoError(t, err)
}

func TestExchange_StoreFaultsAreServerErrors(t *testing.T) {
	ctx := context.Background()
	for _, op := range []string{"GetCode", "DeleteCode", "GetSlugForResource", "GetSecret"} {
		t.Run(op, func(t *testing.T) {
			f := newExchangeFixture(t)
			code := f.issueCode(t, nil)
			f.store.failOn[op] = errors.New("dial tcp 10.0.0.5:5432: connection refused")

			_, err := f.exchange.Exchange(ctx, tokenRequest(code))
			oerr := AsError(err)
			assert.Equal(t, ErrServerError, oerr.Code)
			assert.Equal(t, "internal server error", oerr.Description)
			assert.Equal(t, 500, oerr.Status())
		})
	}
}

func TestWriteTokenResponse(t *testing.T) {
	w := httptest.NewRecorder()
	WriteTokenResponse(w, &TokenResponse{AccessToken: "a.b.c", TokenType: "Bearer", ExpiresIn: 3600, Scope: "mcp"})

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"access_token":"a.b.c","token_type":"Bearer","expires_in":3600,"scope":"mcp"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, NewError(ErrInvalidGrant, "client_id mismatch"))

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"error":"invalid_grant","error_description":"client_id mismatch"}`, w.Body.String())
}
