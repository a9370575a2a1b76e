package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/oauth"
)

// MemoryStorage keeps credentials in process memory. Reads sweep every
// expired client or code before answering. Signing secrets are held encrypted.
type MemoryStorage struct {
	mu        sync.Mutex
	clients   map[string]*oauth.Client
	codes     map[string]*oauth.AuthorizationCode
	secrets   map[string]string // slug -> ciphertext
	resources map[string]string // resource URL -> slug
	encryptor crypto.Encryptor
	now       func() time.Time
}

var _ Store = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new in-memory store
func NewMemoryStorage(encryptor crypto.Encryptor) (*MemoryStorage, error) {
	if encryptor == nil {
		return nil, errors.New("encryptor is required")
	}
	return &MemoryStorage{
		clients:   make(map[string]*oauth.Client),
		codes:     make(map[string]*oauth.AuthorizationCode),
		secrets:   make(map[string]string),
		resources: make(map[string]string),
		encryptor: encryptor,
		now:       time.Now,
	}, nil
}

// WithClock replaces the time source used for expiry.
func (s *MemoryStorage) WithClock(now func() time.Time) *MemoryStorage {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// sweepLocked drops expired clients and codes. Caller holds mu.
func (s *MemoryStorage) sweepLocked() int {
	now := s.now()
	removed := 0
	for id, c := range s.clients {
		if expired(c.ExpiresAt, now) {
			delete(s.clients, id)
			removed++
		}
	}
	for k, c := range s.codes {
		if expired(c.ExpiresAt, now) {
			delete(s.codes, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStorage) PutClient(_ context.Context, client *oauth.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneClient(client)
	c.ExpiresAt = clientExpiry(s.now())
	s.clients[c.ClientID] = c

	log.LogDebug("Stored client %s, total clients: %d", c.ClientID, len(s.clients))
	return nil
}

func (s *MemoryStorage) GetClient(_ context.Context, clientID string) (*oauth.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, oauth.ErrNotFound
	}
	return cloneClient(c), nil
}

func (s *MemoryStorage) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	return nil
}

func (s *MemoryStorage) PutCode(_ context.Context, code *oauth.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	c.ExpiresAt = codeExpiry(code, s.now())
	s.codes[c.Code] = &c
	return nil
}

func (s *MemoryStorage) GetCode(_ context.Context, code string) (*oauth.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	c, ok := s.codes[code]
	if !ok {
		return nil, oauth.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteCode is atomic under mu: of concurrent callers only one sees true.
func (s *MemoryStorage) DeleteCode(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.codes[code]
	delete(s.codes, code)
	return ok, nil
}

func (s *MemoryStorage) PutSecret(_ context.Context, slug, secret string) error {
	ct, err := sealSecret(s.encryptor, secret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[slug] = ct
	return nil
}

func (s *MemoryStorage) GetSecret(_ context.Context, slug string) (string, error) {
	s.mu.Lock()
	ct, ok := s.secrets[slug]
	s.mu.Unlock()

	if !ok {
		return "", oauth.ErrNotFound
	}
	return openSecret(s.encryptor, ct)
}

func (s *MemoryStorage) MapResourceToSlug(_ context.Context, resourceURL, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resourceURL] = slug
	return nil
}

func (s *MemoryStorage) GetSlugForResource(_ context.Context, resourceURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slug, ok := s.resources[resourceURL]
	if !ok {
		return "", oauth.ErrNotFound
	}
	return slug, nil
}

func (s *MemoryStorage) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(), nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
