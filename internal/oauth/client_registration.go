package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/instrumentation"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/urlutil"
)

// RegistrationRequest is the RFC 7591 client metadata accepted by Register.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// RegistrationResponse is the client record returned once, with its secret.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// ParseRegistrationRequest decodes a JSON registration body.
func ParseRegistrationRequest(body []byte) (*RegistrationRequest, error) {
	var req RegistrationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewError(ErrInvalidClientMetadata, "request body must be a JSON object with redirect_uris")
	}
	return &req, nil
}

// Registrar implements dynamic client registration.
type Registrar struct {
	store   CredentialStore
	now     func() time.Time
	metrics *instrumentation.Metrics
}

func NewRegistrar(store CredentialStore, now func() time.Time, metrics *instrumentation.Metrics) *Registrar {
	if now == nil {
		now = time.Now
	}
	return &Registrar{store: store, now: now, metrics: metrics}
}

// Register validates metadata, mints the client identity and persists it.
// The returned client carries the plaintext secret; only its hash is stored.
func (r *Registrar) Register(ctx context.Context, req *RegistrationRequest) (*Client, error) {
	if req == nil || len(req.RedirectURIs) == 0 {
		return nil, NewError(ErrInvalidClientMetadata, "redirect_uris is required and must be a non-empty array")
	}
	for _, uri := range req.RedirectURIs {
		if !urlutil.IsAbsolute(uri) {
			return nil, NewError(ErrInvalidClientMetadata, fmt.Sprintf("redirect_uri %q must be an absolute URI", uri))
		}
		if strings.Contains(uri, "#") {
			return nil, NewError(ErrInvalidClientMetadata, fmt.Sprintf("redirect_uri %q must not contain a fragment", uri))
		}
	}

	client := &Client{
		ClientID:                uuid.NewString(),
		ClientName:              valueOr(strings.TrimSpace(req.ClientName), DefaultClientName),
		RedirectURIs:            append([]string(nil), req.RedirectURIs...),
		GrantTypes:              sliceOr(req.GrantTypes, []string{GrantTypeAuthorizationCode}),
		ResponseTypes:           sliceOr(req.ResponseTypes, []string{ResponseTypeCode}),
		Scope:                   valueOr(strings.TrimSpace(req.Scope), DefaultScope),
		TokenEndpointAuthMethod: valueOr(req.TokenEndpointAuthMethod, AuthMethodClientSecretPost),
		CreatedAt:               r.now().Truncate(time.Second),
	}

	if client.TokenEndpointAuthMethod != AuthMethodNone {
		secret, err := crypto.GenerateSecureToken()
		if err != nil {
			return nil, internalError("registrar", "generate_secret", err)
		}
		hash, err := crypto.HashClientSecret(secret)
		if err != nil {
			return nil, internalError("registrar", "hash_secret", err)
		}
		client.ClientSecret = secret
		client.SecretHash = hash
	}

	if err := r.store.PutClient(ctx, client); err != nil {
		return nil, internalError("registrar", "put_client", err)
	}

	r.metrics.RecordClientRegistration(ctx)
	log.LogInfoWithFields("registrar", "Client registered", map[string]any{
		"client_id":     client.ClientID,
		"client_name":   client.ClientName,
		"redirect_uris": client.RedirectURIs,
	})
	return client, nil
}

// Unregister removes a client. Removing an unknown client is not an error.
func (r *Registrar) Unregister(ctx context.Context, clientID string) error {
	if err := r.store.DeleteClient(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete client %s: %w", clientID, err)
	}
	log.LogInfoWithFields("registrar", "Client removed", map[string]any{"client_id": clientID})
	return nil
}

// NewRegistrationResponse renders a freshly registered client.
func NewRegistrationResponse(c *Client) RegistrationResponse {
	return RegistrationResponse{
		ClientID:                c.ClientID,
		ClientSecret:            c.ClientSecret,
		ClientIDIssuedAt:        c.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		Scope:                   c.Scope,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func sliceOr(v, fallback []string) []string {
	if len(v) == 0 {
		return fallback
	}
	return append([]string(nil), v...)
}
