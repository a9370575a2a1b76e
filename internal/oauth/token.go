package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/mcp-workers/internal/accesstoken"
	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/instrumentation"
	"github.com/dgellow/mcp-workers/internal/log"
)

// TokenRequest carries the token endpoint fields.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
	// ClientSecret is optional; when sent it must match the client's registered secret.
	ClientSecret string `json:"client_secret,omitempty"`
}

// TokenResponse is the successful token endpoint body. No refresh token is issued.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// TokenExchangeConfig is injected at construction.
type TokenExchangeConfig struct {
	// Issuer is this server's base URL, written to iss.
	Issuer  string
	Codec   *accesstoken.Codec
	Now     func() time.Time
	Metrics *instrumentation.Metrics
}

// TokenExchange trades an authorization code for a deployment-scoped access token.
type TokenExchange struct {
	store   CredentialStore
	issuer  string
	codec   *accesstoken.Codec
	now     func() time.Time
	metrics *instrumentation.Metrics
}

func NewTokenExchange(store CredentialStore, cfg TokenExchangeConfig) *TokenExchange {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Codec == nil {
		cfg.Codec = accesstoken.New().WithClock(cfg.Now)
	}
	return &TokenExchange{
		store:   store,
		issuer:  cfg.Issuer,
		codec:   cfg.Codec,
		now:     cfg.Now,
		metrics: cfg.Metrics,
	}
}

// Exchange runs the token exchange checks in a fixed order, stopping at the
// first failure. The code is deleted once PKCE passes, or earlier if it has
// expired. A client_id or redirect_uri mismatch leaves it in place.
func (x *TokenExchange) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	resp, err := x.exchange(ctx, req)
	code := ""
	if err != nil {
		code = string(AsError(err).Code)
	}
	x.metrics.RecordCodeExchange(ctx, code)
	return resp, err
}

func (x *TokenExchange) exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType != GrantTypeAuthorizationCode {
		return nil, NewError(ErrUnsupportedGrantType, "only authorization_code is supported")
	}

	code, err := x.store.GetCode(ctx, req.Code)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(ErrInvalidGrant, "invalid or expired authorization code")
	}
	if err != nil {
		return nil, internalError("token", "get_code", err)
	}

	if code.Expired(x.now()) {
		if _, err := x.store.DeleteCode(ctx, req.Code); err != nil {
			return nil, internalError("token", "delete_expired_code", err)
		}
		return nil, NewError(ErrInvalidGrant, "authorization code expired")
	}

	if code.ClientID != req.ClientID {
		log.LogWarnWithFields("token", "Code presented by a different client", map[string]any{
			"client_id": req.ClientID,
		})
		return nil, NewError(ErrInvalidGrant, "client_id mismatch")
	}

	if req.ClientSecret != "" {
		if err := x.authenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
			return nil, err
		}
	}

	if code.RedirectURI != req.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri mismatch")
	}

	if !VerifyPKCE(req.CodeVerifier, code.CodeChallenge) {
		x.metrics.RecordPKCEValidationFailed(ctx)
		return nil, NewError(ErrInvalidGrant, "PKCE code_verifier verification failed")
	}

	deleted, err := x.store.DeleteCode(ctx, req.Code)
	if err != nil {
		return nil, internalError("token", "delete_code", err)
	}
	if !deleted {
		// another exchange consumed it between our read and delete
		return nil, NewError(ErrInvalidGrant, "invalid or expired authorization code")
	}

	slug, err := x.store.GetSlugForResource(ctx, code.Resource)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(ErrInvalidGrant, "unknown resource")
	}
	if err != nil {
		return nil, internalError("token", "get_slug", err)
	}

	secret, err := x.store.GetSecret(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		log.LogErrorWithFields("token", "No signing secret for deployment", map[string]any{"slug": slug})
		return nil, NewError(ErrServerError, "JWT signing key not found")
	}
	if err != nil {
		return nil, internalError("token", "get_secret", err)
	}

	claims, err := x.codec.NewClaims(x.issuer, code.Resource, code.Scope)
	if err != nil {
		return nil, internalError("token", "build_claims", err)
	}
	token, err := x.codec.Sign(claims, secret)
	if err != nil {
		return nil, internalError("token", "sign", err)
	}

	log.LogInfoWithFields("token", "Access token issued", map[string]any{
		"client_id": code.ClientID,
		"resource":  code.Resource,
		"slug":      slug,
		"jti":       claims.ID,
	})
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(accesstoken.Lifetime.Seconds()),
		Scope:       code.Scope,
	}, nil
}

func (x *TokenExchange) authenticateClient(ctx context.Context, clientID, secret string) error {
	client, err := x.store.GetClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return NewError(ErrInvalidClient, "unknown client")
	}
	if err != nil {
		return internalError("token", "get_client", err)
	}
	if len(client.SecretHash) == 0 || !crypto.CompareClientSecret(client.SecretHash, secret) {
		return NewError(ErrInvalidClient, "client authentication failed")
	}
	return nil
}

// WriteTokenResponse writes a 200 token body with no-store caching.
func WriteTokenResponse(w http.ResponseWriter, resp *TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.LogError("Failed to encode token response: %v", err)
	}
}
