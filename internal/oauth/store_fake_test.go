package oauth

import (
	"context"
	"sync"
)

// fakeStore is a map-backed CredentialStore with no expiry sweep, so tests can
// observe the exchange's own expiry check. failOn injects store faults by operation.
type fakeStore struct {
	mu      sync.Mutex
	clients map[string]*Client
	codes   map[string]*AuthorizationCode
	secrets map[string]string
	slugs   map[string]string
	failOn  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients: map[string]*Client{},
		codes:   map[string]*AuthorizationCode{},
		secrets: map[string]string{},
		slugs:   map[string]string{},
		failOn:  map[string]error{},
	}
}

func (s *fakeStore) fail(op string) error {
	return s.failOn[op]
}

func (s *fakeStore) PutClient(_ context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("PutClient"); err != nil {
		return err
	}
	cp := *c
	cp.ClientSecret = ""
	s.clients[c.ClientID] = &cp
	return nil
}

func (s *fakeStore) GetClient(_ context.Context, id string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetClient"); err != nil {
		return nil, err
	}
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
	return nil
}

func (s *fakeStore) PutCode(_ context.Context, c *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("PutCode"); err != nil {
		return err
	}
	cp := *c
	s.codes[c.Code] = &cp
	return nil
}

func (s *fakeStore) GetCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetCode"); err != nil {
		return nil, err
	}
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) DeleteCode(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteCode"); err != nil {
		return false, err
	}
	_, ok := s.codes[code]
	delete(s.codes, code)
	return ok, nil
}

func (s *fakeStore) PutSecret(_ context.Context, slug, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[slug] = secret
	return nil
}

func (s *fakeStore) GetSecret(_ context.Context, slug string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetSecret"); err != nil {
		return "", err
	}
	v, ok := s.secrets[slug]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) MapResourceToSlug(_ context.Context, url, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slugs[url] = slug
	return nil
}

func (s *fakeStore) GetSlugForResource(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetSlugForResource"); err != nil {
		return "", err
	}
	v, ok := s.slugs[url]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) hasCode(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.codes[code]
	return ok
}

var _ CredentialStore = (*fakeStore)(nil)
