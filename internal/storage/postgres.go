package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage keeps credentials in Postgres. Expired clients and codes are
// deleted at the start of every read.
type PostgresStorage struct {
	pool      *pgxpool.Pool
	encryptor crypto.Encryptor
	now       func() time.Time
}

var _ Store = (*PostgresStorage)(nil)

// PostgresOptions configures NewPostgresStorage.
type PostgresOptions struct {
	DSN       string
	Migrate   bool
	MaxConns  int32
	Encryptor crypto.Encryptor
}

// NewPostgresStorage connects, pings and optionally migrates the schema.
func NewPostgresStorage(ctx context.Context, opts PostgresOptions) (*PostgresStorage, error) {
	if opts.Encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	if opts.Migrate {
		if err := Migrate(opts.DSN); err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.LogInfoWithFields("postgres", "Connected to Postgres", map[string]any{
		"host":      cfg.ConnConfig.Host,
		"database":  cfg.ConnConfig.Database,
		"max_conns": cfg.MaxConns,
	})

	return &PostgresStorage{pool: pool, encryptor: opts.Encryptor, now: time.Now}, nil
}

func (s *PostgresStorage) sweep(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	for _, q := range []string{
		`DELETE FROM oauth_clients WHERE expires_at < $1`,
		`DELETE FROM oauth_codes WHERE expires_at < $1`,
	} {
		tag, err := s.pool.Exec(ctx, q, now)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired rows: %w", err)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

func (s *PostgresStorage) PutClient(ctx context.Context, client *oauth.Client) error {
	c := cloneClient(client)
	c.ExpiresAt = clientExpiry(s.now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_clients (client_id, client_name, redirect_uris, grant_types, response_types,
			scope, token_endpoint_auth_method, secret_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (client_id) DO UPDATE SET
			client_name = EXCLUDED.client_name,
			redirect_uris = EXCLUDED.redirect_uris,
			grant_types = EXCLUDED.grant_types,
			response_types = EXCLUDED.response_types,
			scope = EXCLUDED.scope,
			token_endpoint_auth_method = EXCLUDED.token_endpoint_auth_method,
			secret_hash = EXCLUDED.secret_hash,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		c.ClientID, c.ClientName, textArray(c.RedirectURIs), textArray(c.GrantTypes), textArray(c.ResponseTypes),
		c.Scope, c.TokenEndpointAuthMethod, c.SecretHash, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	if !storableKey(clientID) {
		return nil, oauth.ErrNotFound
	}
	if _, err := s.sweep(ctx); err != nil {
		return nil, err
	}

	var c oauth.Client
	err := s.pool.QueryRow(ctx, `
		SELECT client_id, client_name, redirect_uris, grant_types, response_types,
			scope, token_endpoint_auth_method, secret_hash, created_at, expires_at
		FROM oauth_clients WHERE client_id = $1`, clientID).
		Scan(&c.ClientID, &c.ClientName, &c.RedirectURIs, &c.GrantTypes, &c.ResponseTypes,
			&c.Scope, &c.TokenEndpointAuthMethod, &c.SecretHash, &c.CreatedAt, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

func (s *PostgresStorage) DeleteClient(ctx context.Context, clientID string) error {
	if !storableKey(clientID) {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_clients WHERE client_id = $1`, clientID); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

func (s *PostgresStorage) PutCode(ctx context.Context, code *oauth.AuthorizationCode) error {
	c := *code
	c.ExpiresAt = codeExpiry(code, s.now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_codes (code, client_id, redirect_uri, code_challenge, code_challenge_method,
			scope, resource, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			redirect_uri = EXCLUDED.redirect_uri,
			code_challenge = EXCLUDED.code_challenge,
			code_challenge_method = EXCLUDED.code_challenge_method,
			scope = EXCLUDED.scope,
			resource = EXCLUDED.resource,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		c.Code, c.ClientID, c.RedirectURI, c.CodeChallenge, c.CodeChallengeMethod,
		c.Scope, c.Resource, c.State, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	if !storableKey(code) {
		return nil, oauth.ErrNotFound
	}
	if _, err := s.sweep(ctx); err != nil {
		return nil, err
	}

	var c oauth.AuthorizationCode
	err := s.pool.QueryRow(ctx, `
		SELECT code, client_id, redirect_uri, code_challenge, code_challenge_method,
			scope, resource, state, created_at, expires_at
		FROM oauth_codes WHERE code = $1`, code).
		Scan(&c.Code, &c.ClientID, &c.RedirectURI, &c.CodeChallenge, &c.CodeChallengeMethod,
			&c.Scope, &c.Resource, &c.State, &c.CreatedAt, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return &c, nil
}

// DeleteCode relies on row-level locking: only one concurrent DELETE reports a row.
func (s *PostgresStorage) DeleteCode(ctx context.Context, code string) (bool, error) {
	if !storableKey(code) {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_codes WHERE code = $1`, code)
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStorage) PutSecret(ctx context.Context, slug, secret string) error {
	ct, err := sealSecret(s.encryptor, secret)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO signing_secrets (slug, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		slug, ct, s.now())
	if err != nil {
		return fmt.Errorf("failed to store signing secret: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetSecret(ctx context.Context, slug string) (string, error) {
	if !storableKey(slug) {
		return "", oauth.ErrNotFound
	}
	var ct string
	err := s.pool.QueryRow(ctx, `SELECT value FROM signing_secrets WHERE slug = $1`, slug).Scan(&ct)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oauth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get signing secret: %w", err)
	}
	return openSecret(s.encryptor, ct)
}

func (s *PostgresStorage) MapResourceToSlug(ctx context.Context, resourceURL, slug string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resource_slugs (resource_url, slug, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (resource_url) DO UPDATE SET slug = EXCLUDED.slug, updated_at = EXCLUDED.updated_at`,
		resourceURL, slug, s.now())
	if err != nil {
		return fmt.Errorf("failed to map resource: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetSlugForResource(ctx context.Context, resourceURL string) (string, error) {
	if !storableKey(resourceURL) {
		return "", oauth.ErrNotFound
	}
	var slug string
	err := s.pool.QueryRow(ctx, `SELECT slug FROM resource_slugs WHERE resource_url = $1`, resourceURL).Scan(&slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oauth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get resource mapping: %w", err)
	}
	return slug, nil
}

func (s *PostgresStorage) PurgeExpired(ctx context.Context) (int, error) {
	return s.sweep(ctx)
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// textArray keeps NOT NULL array columns satisfied; pgx encodes a nil slice as NULL.
func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
