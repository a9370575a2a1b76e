package storage

import (
	"context"
	"errors"

	"github.com/dgellow/mcp-workers/internal/instrumentation"
	"github.com/dgellow/mcp-workers/internal/oauth"
)

// instrumentedStore counts every store operation by backend and result.
type instrumentedStore struct {
	next    Store
	kind    string
	metrics *instrumentation.Metrics
}

// WithMetrics wraps s so each call is recorded. Not-found results count as ok.
func WithMetrics(s Store, kind Kind, metrics *instrumentation.Metrics) Store {
	if metrics == nil {
		return s
	}
	return &instrumentedStore{next: s, kind: string(kind), metrics: metrics}
}

func (s *instrumentedStore) record(ctx context.Context, op string, err error) {
	if errors.Is(err, oauth.ErrNotFound) {
		err = nil
	}
	s.metrics.RecordStorageOperation(ctx, s.kind, op, err)
}

func (s *instrumentedStore) PutClient(ctx context.Context, c *oauth.Client) error {
	err := s.next.PutClient(ctx, c)
	s.record(ctx, "put_client", err)
	return err
}

func (s *instrumentedStore) GetClient(ctx context.Context, id string) (*oauth.Client, error) {
	c, err := s.next.GetClient(ctx, id)
	s.record(ctx, "get_client", err)
	return c, err
}

func (s *instrumentedStore) DeleteClient(ctx context.Context, id string) error {
	err := s.next.DeleteClient(ctx, id)
	s.record(ctx, "delete_client", err)
	return err
}

func (s *instrumentedStore) PutCode(ctx context.Context, c *oauth.AuthorizationCode) error {
	err := s.next.PutCode(ctx, c)
	s.record(ctx, "put_code", err)
	return err
}

func (s *instrumentedStore) GetCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	c, err := s.next.GetCode(ctx, code)
	s.record(ctx, "get_code", err)
	return c, err
}

func (s *instrumentedStore) DeleteCode(ctx context.Context, code string) (bool, error) {
	ok, err := s.next.DeleteCode(ctx, code)
	s.record(ctx, "delete_code", err)
	return ok, err
}

func (s *instrumentedStore) PutSecret(ctx context.Context, slug, secret string) error {
	err := s.next.PutSecret(ctx, slug, secret)
	s.record(ctx, "put_secret", err)
	return err
}

func (s *instrumentedStore) GetSecret(ctx context.Context, slug string) (string, error) {
	v, err := s.next.GetSecret(ctx, slug)
	s.record(ctx, "get_secret", err)
	return v, err
}

func (s *instrumentedStore) MapResourceToSlug(ctx context.Context, url, slug string) error {
	err := s.next.MapResourceToSlug(ctx, url, slug)
	s.record(ctx, "map_resource", err)
	return err
}

func (s *instrumentedStore) GetSlugForResource(ctx context.Context, url string) (string, error) {
	v, err := s.next.GetSlugForResource(ctx, url)
	s.record(ctx, "get_slug", err)
	return v, err
}

func (s *instrumentedStore) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.next.PurgeExpired(ctx)
	s.record(ctx, "purge_expired", err)
	if err == nil {
		s.metrics.RecordPurged(ctx, s.kind, n)
	}
	return n, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
