package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultConfigJSON is the starter config written by config-init. It leaves
// baseURL unset so that ResolveBaseURL falls back through the environment.
func DefaultConfigJSON() ([]byte, error) {
	defaultConfig := map[string]any{
		"version":               SupportedVersionPrefix,
		"addr":                  DefaultAddr,
		"authorizationPassword": map[string]string{"$env": "AUTHORIZATION_PASSWORD"},
		"storage":               string(StorageMemory),
		"encryptionKey":         map[string]string{"$env": "ENCRYPTION_KEY"},
		"allowedOrigins":        []string{"*"},
		"rateLimit": map[string]any{
			"rps":   DefaultRateLimitRPS,
			"burst": DefaultRateLimitBurst,
		},
		"cleanupInterval": DefaultCleanupInterval.String(),
		"metrics": map[string]any{
			"enabled": false,
			"addr":    DefaultMetricsAddr,
		},
		"tracing": map[string]any{
			"enabled": false,
		},
		"deployments": []any{},
	}
	return json.MarshalIndent(defaultConfig, "", "  ")
}

// WriteDefaultConfig writes DefaultConfigJSON to path.
func WriteDefaultConfig(path string) error {
	data, err := DefaultConfigJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
