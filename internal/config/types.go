package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects the credential store backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
	StoragePostgres  StorageKind = "postgres"
)

const (
	// SupportedVersionPrefix is the config schema this build understands.
	SupportedVersionPrefix = "v1"

	DefaultAddr                = ":8787"
	DefaultFirestoreDatabase   = "(default)"
	DefaultFirestoreCollection = "mcp_workers"
	DefaultCleanupInterval     = 5 * time.Minute
	DefaultMetricsAddr         = ":9090"
	DefaultRateLimitRPS        = 10
	DefaultRateLimitBurst      = 20
)

// FirestoreConfig points at the Firestore database holding credentials
type FirestoreConfig struct {
	Project    string `json:"project"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// PostgresConfig points at the Postgres database holding credentials
type PostgresConfig struct {
	DSN     Secret `json:"dsn"`
	Migrate bool   `json:"migrate"`
}

// RateLimitConfig bounds requests per client IP on /register and /token.
// Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// MetricsConfig enables the Prometheus endpoint on its own listener
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// TracingConfig exports spans over OTLP/HTTP
type TracingConfig struct {
	Enabled bool `json:"enabled"`
	// Endpoint is the full traces URL. Empty defers to OTEL_EXPORTER_OTLP_* variables.
	Endpoint string `json:"endpoint,omitempty"`
}

// DeploymentConfig is a bundle deployment provisioned when the server starts.
// Without a secret one is generated, which only a worker sharing this
// process's store can use.
type DeploymentConfig struct {
	Slug   string `json:"slug"`
	URL    string `json:"url"`
	Secret Secret `json:"secret,omitempty"`
}

// Config represents the config structure with resolved values.
//
// Sensitive values are written as {"$env": "VAR_NAME"} and resolved when the
// file is loaded, so config files never carry secrets and shells never expand them.
type Config struct {
	Version               string             `json:"version"`
	Addr                  string             `json:"addr"`
	BaseURL               string             `json:"baseURL,omitempty"`
	AuthorizationPassword Secret             `json:"authorizationPassword,omitempty"`
	Storage               StorageKind        `json:"storage"`
	Firestore             *FirestoreConfig   `json:"firestore,omitempty"`
	Postgres              *PostgresConfig    `json:"postgres,omitempty"`
	EncryptionKey         Secret             `json:"encryptionKey,omitempty"`
	AllowedOrigins        []string           `json:"allowedOrigins,omitempty"`
	RateLimit             RateLimitConfig    `json:"rateLimit"`
	CleanupInterval       time.Duration      `json:"cleanupInterval"`
	Metrics               MetricsConfig      `json:"metrics"`
	Tracing               TracingConfig      `json:"tracing"`
	Deployments           []DeploymentConfig `json:"deployments,omitempty"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
