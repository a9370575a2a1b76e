package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dgellow/mcp-workers/internal/accesstoken"
	"github.com/dgellow/mcp-workers/internal/oauth"
)

// TestOAuth2ClientFlow drives the server with a stock OAuth 2 client library:
// discovery, registration, consent, and a PKCE code exchange.
func TestOAuth2ClientFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{password: testPassword})
	ctx := context.Background()

	resp, err := http.Get(env.url("/.well-known/oauth-authorization-server"))
	require.NoError(t, err)
	var md oauth.ServerMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	resp.Body.Close()

	const redirect = "http://127.0.0.1:33418/callback"
	resp, err = http.Post(md.RegistrationEndpoint, "application/json", strings.NewReader(
		`{"redirect_uris":["`+redirect+`"],"client_name":"x/oauth2","token_endpoint_auth_method":"none"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reg oauth.RegistrationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	resp.Body.Close()
	require.Empty(t, reg.ClientSecret)

	conf := &oauth2.Config{
		ClientID:    reg.ClientID,
		RedirectURL: redirect,
		Scopes:      []string{"mcp"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL("xyz",
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", testResource),
	)

	resp, err = http.Get(authURL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := readBody(t, resp)
	assert.Contains(t, page, "x/oauth2")

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	form := u.Query()
	form.Set("csrf_token", extractCSRF(t, page))
	form.Set("password", testPassword)

	resp, err = noRedirectClient().PostForm(md.AuthorizationEndpoint+"/approve", form)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	cb, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", cb.Query().Get("state"))

	tok, err := conf.Exchange(ctx, cb.Query().Get("code"), oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.False(t, tok.Expiry.IsZero())
	assert.Empty(t, tok.RefreshToken)

	claims, err := accesstoken.New().Verify(tok.AccessToken, env.secret)
	require.NoError(t, err)
	assert.Equal(t, testResource, claims.Audience)
	assert.Equal(t, "mcp", claims.Scope)

	// the code is spent
	_, err = conf.Exchange(ctx, cb.Query().Get("code"), oauth2.VerifierOption(verifier))
	var rerr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "invalid_grant", rerr.ErrorCode)
}
