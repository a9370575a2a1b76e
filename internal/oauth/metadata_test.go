package oauth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationServerMetadata(t *testing.T) {
	md, err := AuthorizationServerMetadata("https://auth.example.com")
	require.NoError(t, err)

	raw, err := json.Marshal(md)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"issuer": "https://auth.example.com",
		"authorization_endpoint": "https://auth.example.com/authorize",
		"token_endpoint": "https://auth.example.com/token",
		"registration_endpoint": "https://auth.example.com/register",
		"response_types_supported": ["code"],
		"grant_types_supported": ["authorization_code"],
		"code_challenge_methods_supported": ["S256"],
		"token_endpoint_auth_methods_supported": ["client_secret_post", "none"],
		"scopes_supported": ["mcp"]
	}`, string(raw))
}

func TestAuthorizationServerMetadataIsDeterministic(t *testing.T) {
	a, err := AuthorizationServerMetadata("http://localhost:8787")
	require.NoError(t, err)
	b, err := AuthorizationServerMetadata("http://localhost:8787")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
