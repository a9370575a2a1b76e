package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage keeps credentials in four Firestore collections sharing a
// common prefix. Expired documents are treated as absent on read and deleted
// when encountered; PurgeExpired reclaims the rest.
type FirestoreStorage struct {
	client     *firestore.Client
	projectID  string
	collection string
	encryptor  crypto.Encryptor
	now        func() time.Time
}

var _ Store = (*FirestoreStorage)(nil)

// ClientDoc is a registered client as stored in Firestore
type ClientDoc struct {
	ClientID                string    `firestore:"client_id"`
	ClientName              string    `firestore:"client_name"`
	RedirectURIs            []string  `firestore:"redirect_uris"`
	GrantTypes              []string  `firestore:"grant_types"`
	ResponseTypes           []string  `firestore:"response_types"`
	Scope                   string    `firestore:"scope"`
	TokenEndpointAuthMethod string    `firestore:"token_endpoint_auth_method"`
	SecretHash              []byte    `firestore:"secret_hash,omitempty"`
	CreatedAt               time.Time `firestore:"created_at"`
	ExpiresAt               time.Time `firestore:"expires_at"`
}

// CodeDoc is a pending authorization code as stored in Firestore
type CodeDoc struct {
	Code                string    `firestore:"code"`
	ClientID            string    `firestore:"client_id"`
	RedirectURI         string    `firestore:"redirect_uri"`
	CodeChallenge       string    `firestore:"code_challenge"`
	CodeChallengeMethod string    `firestore:"code_challenge_method"`
	Scope               string    `firestore:"scope"`
	Resource            string    `firestore:"resource"`
	State               string    `firestore:"state"`
	CreatedAt           time.Time `firestore:"created_at"`
	ExpiresAt           time.Time `firestore:"expires_at"`
}

// SecretDoc holds a bundle's signing secret, encrypted.
type SecretDoc struct {
	Slug      string    `firestore:"slug"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// ResourceDoc maps a resource URL to a bundle slug. The document ID is a hash of the URL.
type ResourceDoc struct {
	URL       string    `firestore:"url"`
	Slug      string    `firestore:"slug"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func clientToDoc(c *oauth.Client) *ClientDoc {
	return &ClientDoc{
		ClientID:                c.ClientID,
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		Scope:                   c.Scope,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		SecretHash:              c.SecretHash,
		CreatedAt:               c.CreatedAt,
		ExpiresAt:               c.ExpiresAt,
	}
}

func (d *ClientDoc) toClient() *oauth.Client {
	return &oauth.Client{
		ClientID:                d.ClientID,
		ClientName:              d.ClientName,
		RedirectURIs:            d.RedirectURIs,
		GrantTypes:              d.GrantTypes,
		ResponseTypes:           d.ResponseTypes,
		Scope:                   d.Scope,
		TokenEndpointAuthMethod: d.TokenEndpointAuthMethod,
		SecretHash:              d.SecretHash,
		CreatedAt:               d.CreatedAt,
		ExpiresAt:               d.ExpiresAt,
	}
}

func codeToDoc(c *oauth.AuthorizationCode) *CodeDoc {
	return &CodeDoc{
		Code:                c.Code,
		ClientID:            c.ClientID,
		RedirectURI:         c.RedirectURI,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		Scope:               c.Scope,
		Resource:            c.Resource,
		State:               c.State,
		CreatedAt:           c.CreatedAt,
		ExpiresAt:           c.ExpiresAt,
	}
}

func (d *CodeDoc) toCode() *oauth.AuthorizationCode {
	return &oauth.AuthorizationCode{
		Code:                d.Code,
		ClientID:            d.ClientID,
		RedirectURI:         d.RedirectURI,
		CodeChallenge:       d.CodeChallenge,
		CodeChallengeMethod: d.CodeChallengeMethod,
		Scope:               d.Scope,
		Resource:            d.Resource,
		State:               d.State,
		CreatedAt:           d.CreatedAt,
		ExpiresAt:           d.ExpiresAt,
	}
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("firestore", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		projectID:  projectID,
		collection: collection,
		encryptor:  encryptor,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStorage) clients() *firestore.CollectionRef {
	return s.client.Collection(s.collection + "_clients")
}

func (s *FirestoreStorage) codes() *firestore.CollectionRef {
	return s.client.Collection(s.collection + "_codes")
}

func (s *FirestoreStorage) secrets() *firestore.CollectionRef {
	return s.client.Collection(s.collection + "_secrets")
}

func (s *FirestoreStorage) resources() *firestore.CollectionRef {
	return s.client.Collection(s.collection + "_resources")
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// validDocID reports whether id can name a document. Client supplied ids that
// Firestore would reject cannot exist, so lookups treat them as absent.
func validDocID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > 1500 {
		return false
	}
	if !storableKey(id) || strings.Contains(id, "/") {
		return false
	}
	return !(strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__"))
}

func (s *FirestoreStorage) PutClient(ctx context.Context, client *oauth.Client) error {
	c := cloneClient(client)
	c.ExpiresAt = clientExpiry(s.now())
	if _, err := s.clients().Doc(c.ClientID).Set(ctx, clientToDoc(c)); err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	if !validDocID(clientID) {
		return nil, oauth.ErrNotFound
	}
	ref := s.clients().Doc(clientID)
	snap, err := ref.Get(ctx)
	if isNotFound(err) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var doc ClientDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode client: %w", err)
	}
	if expired(doc.ExpiresAt, s.now()) {
		if _, err := ref.Delete(ctx); err != nil {
			log.LogWarnWithFields("firestore", "Failed to delete expired client", map[string]any{
				"client_id": clientID,
				"error":     err.Error(),
			})
		}
		return nil, oauth.ErrNotFound
	}
	return doc.toClient(), nil
}

func (s *FirestoreStorage) DeleteClient(ctx context.Context, clientID string) error {
	if !validDocID(clientID) {
		return nil
	}
	if _, err := s.clients().Doc(clientID).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) PutCode(ctx context.Context, code *oauth.AuthorizationCode) error {
	c := *code
	c.ExpiresAt = codeExpiry(code, s.now())
	if _, err := s.codes().Doc(c.Code).Set(ctx, codeToDoc(&c)); err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	if !validDocID(code) {
		return nil, oauth.ErrNotFound
	}
	ref := s.codes().Doc(code)
	snap, err := ref.Get(ctx)
	if isNotFound(err) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var doc CodeDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode authorization code: %w", err)
	}
	if expired(doc.ExpiresAt, s.now()) {
		if _, err := ref.Delete(ctx); err != nil {
			log.LogWarnWithFields("firestore", "Failed to delete expired authorization code", map[string]any{
				"error": err.Error(),
			})
		}
		return nil, oauth.ErrNotFound
	}
	return doc.toCode(), nil
}

// DeleteCode reads and deletes inside one transaction, so concurrent callers
// cannot both observe the document.
func (s *FirestoreStorage) DeleteCode(ctx context.Context, code string) (bool, error) {
	if !validDocID(code) {
		return false, nil
	}
	ref := s.codes().Doc(code)
	deleted := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = false
		if _, err := tx.Get(ref); err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		deleted = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return deleted, nil
}

func (s *FirestoreStorage) PutSecret(ctx context.Context, slug, secret string) error {
	if !validDocID(slug) {
		return fmt.Errorf("invalid slug %q", slug)
	}
	ct, err := sealSecret(s.encryptor, secret)
	if err != nil {
		return err
	}
	doc := &SecretDoc{Slug: slug, Value: ct, UpdatedAt: s.now()}
	if _, err := s.secrets().Doc(slug).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store signing secret: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetSecret(ctx context.Context, slug string) (string, error) {
	if !validDocID(slug) {
		return "", oauth.ErrNotFound
	}
	snap, err := s.secrets().Doc(slug).Get(ctx)
	if isNotFound(err) {
		return "", oauth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get signing secret: %w", err)
	}
	var doc SecretDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("failed to decode signing secret: %w", err)
	}
	return openSecret(s.encryptor, doc.Value)
}

func (s *FirestoreStorage) MapResourceToSlug(ctx context.Context, resourceURL, slug string) error {
	doc := &ResourceDoc{URL: resourceURL, Slug: slug, UpdatedAt: s.now()}
	if _, err := s.resources().Doc(docKey(resourceURL)).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to map resource: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetSlugForResource(ctx context.Context, resourceURL string) (string, error) {
	snap, err := s.resources().Doc(docKey(resourceURL)).Get(ctx)
	if isNotFound(err) {
		return "", oauth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get resource mapping: %w", err)
	}
	var doc ResourceDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("failed to decode resource mapping: %w", err)
	}
	if doc.URL != resourceURL {
		return "", oauth.ErrNotFound
	}
	return doc.Slug, nil
}

// PurgeExpired deletes expired clients and codes in batches.
func (s *FirestoreStorage) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	for _, col := range []*firestore.CollectionRef{s.clients(), s.codes()} {
		n, err := s.deleteWhereExpired(ctx, col, now)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		log.LogInfoWithFields("firestore", "Purged expired credentials", map[string]any{
			"count": total,
		})
	}
	return total, nil
}

func (s *FirestoreStorage) deleteWhereExpired(ctx context.Context, col *firestore.CollectionRef, now time.Time) (int, error) {
	iter := col.Where("expires_at", "<", now).Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate %s: %w", col.ID, err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}
	return count, nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
