package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		paths []string
		want  string
	}{
		{"simple join", "https://example.com", []string{"api", "v1"}, "https://example.com/api/v1"},
		{"base with path", "https://example.com/base", []string{"api", "v1"}, "https://example.com/base/api/v1"},
		{"trailing slash preserved", "https://example.com", []string{"api", "v1/"}, "https://example.com/api/v1/"},
		{"leading slash", "https://example.com/", []string{"/token"}, "https://example.com/token"},
		{"well-known", "http://localhost:8787", []string{".well-known", "oauth-authorization-server"}, "http://localhost:8787/.well-known/oauth-authorization-server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrigin(t *testing.T) {
	got, err := Origin("https://weather.acme.workers.dev/mcp?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://weather.acme.workers.dev", got)

	got, err = Origin("http://localhost:8787/sse")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8787", got)

	_, err = Origin("/relative/path")
	assert.Error(t, err)
}

func TestIsAbsolute(t *testing.T) {
	assert.True(t, IsAbsolute("https://app.example/cb"))
	assert.True(t, IsAbsolute("http://127.0.0.1:3000/callback"))
	assert.True(t, IsAbsolute("cursor://anysphere.cursor-retrieval/oauth/callback"))
	assert.True(t, IsAbsolute("com.example.app:/oauth2redirect"))
	assert.False(t, IsAbsolute(""))
	assert.False(t, IsAbsolute("/cb"))
	assert.False(t, IsAbsolute("https:///cb"))
	assert.False(t, IsAbsolute("://bad"))
}

func TestAppendQuery(t *testing.T) {
	got, err := AppendQuery("https://app.example/cb?keep=1", [][2]string{{"code", "abc"}, {"state", ""}})
	require.NoError(t, err)
	assert.Equal(t, "https://app.example/cb?code=abc&keep=1", got)

	_, err = AppendQuery("https://app.example/cb#frag", [][2]string{{"code", "abc"}})
	assert.Error(t, err)
}

func TestTrimTrailingSlash(t *testing.T) {
	assert.Equal(t, "https://a.example", TrimTrailingSlash("https://a.example/"))
	assert.Equal(t, "https://a.example/mcp", TrimTrailingSlash("https://a.example/mcp"))
}
