package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name   string
		secret Secret
		want   string
	}{
		{name: "non-empty secret", secret: Secret("super-secret-password"), want: "***"},
		{name: "empty secret", secret: Secret(""), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.secret.String())
			assert.Equal(t, "value: "+tt.want, fmt.Sprintf("value: %s", tt.secret))
			if tt.secret != "" {
				assert.NotContains(t, fmt.Sprintf("%v", tt.secret), string(tt.secret))
			}
		})
	}
}

func TestSecretJSONMarshal(t *testing.T) {
	cfg := Config{
		Version:               "v1",
		AuthorizationPassword: "hunter2",
		EncryptionKey:         "test-encryption-key-32-bytes-ok!",
		Postgres:              &PostgresConfig{DSN: "postgres://user:pw@db/app"},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "test-encryption-key")
	assert.NotContains(t, out, "user:pw")
	assert.Contains(t, out, `"authorizationPassword":"***"`)
}
