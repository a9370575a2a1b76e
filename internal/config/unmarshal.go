package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnmarshalJSON resolves env references and durations.
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Version               string             `json:"version"`
		Addr                  json.RawMessage    `json:"addr"`
		BaseURL               json.RawMessage    `json:"baseURL"`
		AuthorizationPassword json.RawMessage    `json:"authorizationPassword"`
		Storage               StorageKind        `json:"storage"`
		Firestore             *FirestoreConfig   `json:"firestore"`
		Postgres              *PostgresConfig    `json:"postgres"`
		EncryptionKey         json.RawMessage    `json:"encryptionKey"`
		AllowedOrigins        []string           `json:"allowedOrigins"`
		RateLimit             *RateLimitConfig   `json:"rateLimit"`
		CleanupInterval       string             `json:"cleanupInterval"`
		Metrics               *MetricsConfig     `json:"metrics"`
		Tracing               TracingConfig      `json:"tracing"`
		Deployments           []DeploymentConfig `json:"deployments"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Version = raw.Version
	c.Storage = raw.Storage
	c.Firestore = raw.Firestore
	c.Postgres = raw.Postgres
	c.AllowedOrigins = raw.AllowedOrigins
	c.Tracing = raw.Tracing
	c.Deployments = raw.Deployments

	for _, field := range []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"addr", raw.Addr, &c.Addr},
		{"baseURL", raw.BaseURL, &c.BaseURL},
	} {
		if field.raw == nil {
			continue
		}
		v, err := ParseConfigValue(field.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", field.name, err)
		}
		*field.dst = v
	}

	for _, field := range []struct {
		name string
		raw  json.RawMessage
		dst  *Secret
	}{
		{"authorizationPassword", raw.AuthorizationPassword, &c.AuthorizationPassword},
		{"encryptionKey", raw.EncryptionKey, &c.EncryptionKey},
	} {
		if field.raw == nil {
			continue
		}
		v, err := ParseConfigValue(field.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", field.name, err)
		}
		*field.dst = Secret(v)
	}

	if raw.RateLimit != nil {
		c.RateLimit = *raw.RateLimit
	} else {
		c.RateLimit = RateLimitConfig{RPS: DefaultRateLimitRPS, Burst: DefaultRateLimitBurst}
	}
	if raw.Metrics != nil {
		c.Metrics = *raw.Metrics
	}

	if raw.CleanupInterval != "" {
		d, err := time.ParseDuration(raw.CleanupInterval)
		if err != nil {
			return fmt.Errorf("parsing cleanupInterval: %w", err)
		}
		c.CleanupInterval = d
	}

	c.applyDefaults()
	return nil
}

// UnmarshalJSON resolves the DSN reference.
func (p *PostgresConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		DSN     json.RawMessage `json:"dsn"`
		Migrate bool            `json:"migrate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Migrate = raw.Migrate
	if raw.DSN != nil {
		v, err := ParseConfigValue(raw.DSN)
		if err != nil {
			return fmt.Errorf("parsing postgres.dsn: %w", err)
		}
		p.DSN = Secret(v)
	}
	return nil
}

// UnmarshalJSON resolves the signing secret reference.
func (d *DeploymentConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Slug   string          `json:"slug"`
		URL    string          `json:"url"`
		Secret json.RawMessage `json:"secret"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Slug = raw.Slug
	d.URL = raw.URL
	if raw.Secret != nil {
		v, err := ParseConfigValue(raw.Secret)
		if err != nil {
			return fmt.Errorf("parsing deployment %q secret: %w", raw.Slug, err)
		}
		d.Secret = Secret(v)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Storage == "" {
		c.Storage = StorageMemory
	}
	if c.Storage == StorageFirestore && c.Firestore != nil {
		if c.Firestore.Database == "" {
			c.Firestore.Database = DefaultFirestoreDatabase
		}
		if c.Firestore.Collection == "" {
			c.Firestore.Collection = DefaultFirestoreCollection
		}
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}
