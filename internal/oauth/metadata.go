package oauth

import (
	"github.com/dgellow/mcp-workers/internal/urlutil"
)

// Endpoint paths, relative to the issuer.
const (
	AuthorizePath = "authorize"
	ApprovePath   = "authorize/approve"
	TokenPath     = "token"
	RegisterPath  = "register"
	WellKnownPath = ".well-known/oauth-authorization-server"
)

// ServerMetadata is the RFC 8414 authorization server metadata document.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
}

// AuthorizationServerMetadata builds the discovery document. It depends only on the issuer.
// https://datatracker.ietf.org/doc/html/rfc8414
func AuthorizationServerMetadata(issuer string) (*ServerMetadata, error) {
	authzEndpoint, err := urlutil.JoinPath(issuer, AuthorizePath)
	if err != nil {
		return nil, err
	}
	tokenEndpoint, err := urlutil.JoinPath(issuer, TokenPath)
	if err != nil {
		return nil, err
	}
	registerEndpoint, err := urlutil.JoinPath(issuer, RegisterPath)
	if err != nil {
		return nil, err
	}

	return &ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             authzEndpoint,
		TokenEndpoint:                     tokenEndpoint,
		RegistrationEndpoint:              registerEndpoint,
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode},
		CodeChallengeMethodsSupported:     []string{CodeChallengeMethodS256},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodClientSecretPost, AuthMethodNone},
		ScopesSupported:                   []string{DefaultScope},
	}, nil
}
