package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/urlutil"
	"github.com/joho/godotenv"
)

// sensitiveFields must be given as {"$env": "VAR"} references.
var sensitiveFields = []string{"authorizationPassword", "encryptionKey"}

// LoadDotEnv loads variables from path into the process environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	log.LogDebugWithFields("config", "Loaded environment file", map[string]any{"path": path})
	return nil
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for config bytes already in memory.
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, SupportedVersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig checks secret positions before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, name := range sensitiveFields {
		if value, exists := rawConfig[name]; exists {
			if err := validateEnvVarReference(value, name, name); err != nil {
				return errors.New(err.Message)
			}
		}
	}
	if pg, ok := rawConfig["postgres"].(map[string]any); ok {
		if dsn, exists := pg["dsn"]; exists {
			if err := validateEnvVarReference(dsn, "dsn", "postgres.dsn"); err != nil {
				return errors.New(err.Message)
			}
		}
	}
	deployments, _ := rawConfig["deployments"].([]any)
	for i, d := range deployments {
		entry, _ := d.(map[string]any)
		if secret, exists := entry["secret"]; exists {
			path := fmt.Sprintf("deployments[%d].secret", i)
			if err := validateEnvVarReference(secret, "secret", path); err != nil {
				return fmt.Errorf("%s: %s", path, err.Message)
			}
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration and reports every problem it finds.
func ValidateConfig(config *Config) error {
	var errs []error

	if config.Addr == "" {
		errs = append(errs, fmt.Errorf("addr is required"))
	}
	if config.BaseURL != "" {
		if _, err := url.Parse(normalizeBaseURL(config.BaseURL)); err != nil {
			errs = append(errs, fmt.Errorf("baseURL is not a valid URL: %w", err))
		}
	}

	switch config.Storage {
	case StorageMemory:
		if config.EncryptionKey != "" && len(config.EncryptionKey) != 32 {
			errs = append(errs, fmt.Errorf("encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(config.EncryptionKey)))
		}
	case StorageFirestore, StoragePostgres:
		if len(config.EncryptionKey) != 32 {
			errs = append(errs, fmt.Errorf("encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(config.EncryptionKey)))
		}
	default:
		errs = append(errs, fmt.Errorf("storage must be one of memory, firestore, postgres (got %q)", config.Storage))
	}

	if config.Storage == StorageFirestore && (config.Firestore == nil || config.Firestore.Project == "") {
		errs = append(errs, fmt.Errorf("firestore.project is required when using firestore storage"))
	}
	if config.Storage == StoragePostgres && (config.Postgres == nil || config.Postgres.DSN == "") {
		errs = append(errs, fmt.Errorf("postgres.dsn is required when using postgres storage"))
	}

	if config.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rateLimit.rps cannot be negative"))
	}
	if config.RateLimit.RPS > 0 && config.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("rateLimit.burst must be at least 1 when rateLimit.rps is set"))
	}
	if config.CleanupInterval < 0 {
		errs = append(errs, fmt.Errorf("cleanupInterval cannot be negative"))
	}

	if config.Tracing.Endpoint != "" {
		u, err := url.Parse(config.Tracing.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("tracing.endpoint %q must be an http(s) URL", config.Tracing.Endpoint))
		}
	}

	slugs := make(map[string]bool, len(config.Deployments))
	for i, d := range config.Deployments {
		switch {
		case strings.TrimSpace(d.Slug) == "":
			errs = append(errs, fmt.Errorf("deployments[%d].slug is required", i))
		case slugs[d.Slug]:
			errs = append(errs, fmt.Errorf("deployments[%d].slug %q is listed twice", i, d.Slug))
		}
		slugs[d.Slug] = true
		if !urlutil.IsAbsolute(d.URL) {
			errs = append(errs, fmt.Errorf("deployments[%d].url %q must be an absolute URL", i, d.URL))
		}
	}

	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("allowedOrigins entry %q must be an origin like https://example.com", origin))
		}
	}

	if config.AuthorizationPassword == "" {
		log.LogWarn("No authorizationPassword configured - anyone who can reach /authorize can approve access")
	}

	return errors.Join(errs...)
}
