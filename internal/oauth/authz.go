package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/instrumentation"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/urlutil"
)

const codeBytes = 32

// ErrInvalidPassword means the consent password did not match. It is a UX
// outcome sent back to the consent screen, never an OAuth protocol error.
var ErrInvalidPassword = errors.New("invalid_password")

// AuthorizeParams are the authorization request parameters.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	State               string
	Resource            string
}

// ParseAuthorizeParams reads the parameters from a query string or form.
func ParseAuthorizeParams(v url.Values) AuthorizeParams {
	return AuthorizeParams{
		ClientID:            v.Get("client_id"),
		RedirectURI:         v.Get("redirect_uri"),
		ResponseType:        v.Get("response_type"),
		CodeChallenge:       v.Get("code_challenge"),
		CodeChallengeMethod: v.Get("code_challenge_method"),
		Scope:               v.Get("scope"),
		State:               v.Get("state"),
		Resource:            v.Get("resource"),
	}
}

// Values encodes the parameters back into a query, skipping empty ones.
func (p AuthorizeParams) Values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("client_id", p.ClientID)
	set("redirect_uri", p.RedirectURI)
	set("response_type", p.ResponseType)
	set("code_challenge", p.CodeChallenge)
	set("code_challenge_method", p.CodeChallengeMethod)
	set("scope", p.Scope)
	set("state", p.State)
	set("resource", p.Resource)
	return v
}

// ValidateAuthorizeParams checks the request shape. It does not look the
// client up; that happens at approval. The check order fixes which error a
// request with several problems gets.
func ValidateAuthorizeParams(p AuthorizeParams) (*AuthorizeParams, error) {
	switch {
	case p.ClientID == "":
		return nil, NewError(ErrInvalidRequest, "client_id is required")
	case p.RedirectURI == "":
		return nil, NewError(ErrInvalidRequest, "redirect_uri is required")
	case p.ResponseType != ResponseTypeCode:
		return nil, NewError(ErrUnsupportedResponseType, "only response_type=code is supported")
	case p.CodeChallenge == "":
		return nil, NewError(ErrInvalidRequest, "code_challenge is required")
	case p.CodeChallengeMethod != CodeChallengeMethodS256:
		return nil, NewError(ErrInvalidRequest, "code_challenge_method must be S256")
	}

	valid := p
	if valid.Scope == "" {
		valid.Scope = DefaultScope
	}
	return &valid, nil
}

// AuthorizationFlowConfig is injected at construction.
type AuthorizationFlowConfig struct {
	// Password gates consent when non-empty.
	Password string
	CodeTTL  time.Duration
	Now      func() time.Time
	Metrics  *instrumentation.Metrics
}

// AuthorizationFlow approves consent and mints authorization codes.
type AuthorizationFlow struct {
	store    CredentialStore
	password string
	codeTTL  time.Duration
	now      func() time.Time
	metrics  *instrumentation.Metrics
}

func NewAuthorizationFlow(store CredentialStore, cfg AuthorizationFlowConfig) *AuthorizationFlow {
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = CodeTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthorizationFlow{
		store:    store,
		password: cfg.Password,
		codeTTL:  cfg.CodeTTL,
		now:      cfg.Now,
		metrics:  cfg.Metrics,
	}
}

// PasswordRequired reports whether consent asks for the shared password.
func (f *AuthorizationFlow) PasswordRequired() bool {
	return f.password != ""
}

// CheckPassword compares in constant time. Always true when no password is configured.
func (f *AuthorizationFlow) CheckPassword(provided string) bool {
	if f.password == "" {
		return true
	}
	return crypto.ConstantTimeEqual(provided, f.password)
}

// LookupClient returns the registered client or an invalid_client error.
func (f *AuthorizationFlow) LookupClient(ctx context.Context, clientID string) (*Client, error) {
	client, err := f.store.GetClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewError(ErrInvalidClient, "unknown client")
	}
	if err != nil {
		return nil, internalError("authorize", "get_client", err)
	}
	return client, nil
}

// Approve runs consent approval for validated params and returns the URL to
// redirect the user agent to, carrying code and state. A wrong password
// returns ErrInvalidPassword.
func (f *AuthorizationFlow) Approve(ctx context.Context, params *AuthorizeParams, password string) (string, error) {
	if !f.CheckPassword(password) {
		f.metrics.RecordInvalidPassword(ctx)
		log.LogWarnWithFields("authorize", "Consent rejected: invalid password", map[string]any{
			"client_id": params.ClientID,
		})
		return "", ErrInvalidPassword
	}

	client, err := f.LookupClient(ctx, params.ClientID)
	if err != nil {
		return "", err
	}
	if !client.HasRedirectURI(params.RedirectURI) {
		return "", NewError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}

	code, err := f.newAuthCode(params)
	if err != nil {
		return "", err
	}
	// the redirect must be buildable before the code is stored
	target, err := urlutil.AppendQuery(params.RedirectURI, [][2]string{
		{"code", code.Code},
		{"state", params.State},
	})
	if err != nil {
		return "", NewError(ErrInvalidRequest, "redirect_uri is not a valid URL")
	}
	if err := f.storeCode(ctx, code); err != nil {
		return "", err
	}

	f.metrics.RecordAuthorizationIssued(ctx, params.ClientID)
	log.LogInfoWithFields("authorize", "Authorization code issued", map[string]any{
		"client_id": params.ClientID,
		"resource":  params.Resource,
		"scope":     params.Scope,
	})
	return target, nil
}

// GenerateAuthCode mints and stores a code bound to params.
func (f *AuthorizationFlow) GenerateAuthCode(ctx context.Context, params *AuthorizeParams) (*AuthorizationCode, error) {
	code, err := f.newAuthCode(params)
	if err != nil {
		return nil, err
	}
	if err := f.storeCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

func (f *AuthorizationFlow) newAuthCode(params *AuthorizeParams) (*AuthorizationCode, error) {
	value, err := crypto.RandomHex(codeBytes)
	if err != nil {
		return nil, internalError("authorize", "generate_code", err)
	}

	now := f.now()
	return &AuthorizationCode{
		Code:                value,
		ClientID:            params.ClientID,
		RedirectURI:         params.RedirectURI,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		Scope:               params.Scope,
		Resource:            params.Resource,
		State:               params.State,
		CreatedAt:           now,
		ExpiresAt:           now.Add(f.codeTTL),
	}, nil
}

func (f *AuthorizationFlow) storeCode(ctx context.Context, code *AuthorizationCode) error {
	if err := f.store.PutCode(ctx, code); err != nil {
		return internalError("authorize", "put_code", err)
	}
	return nil
}

// InvalidPasswordRedirect builds the consent URL with the original parameters and error=invalid_password.
func InvalidPasswordRedirect(authorizeEndpoint string, params AuthorizeParams) (string, error) {
	u, err := url.Parse(authorizeEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorize endpoint: %w", err)
	}
	q := params.Values()
	q.Set("error", ErrInvalidPassword.Error())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
