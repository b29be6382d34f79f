package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"supplier_ingest/config"
	"supplier_ingest/identity"
	"supplier_ingest/models"
)

// ErrNoImages rejects drafts that would be saved without pictures
var ErrNoImages = errors.New("product has no images")

// ProductStore is the catalog's product collection
type ProductStore interface {
	InsertProduct(ctx context.Context, p *models.Product) (uuid.UUID, error)
	ProductExistsBySourceKey(ctx context.Context, sourceKey string) (bool, error)
}

// PersistenceError wraps a failed product write
type PersistenceError struct {
	Title string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %q: %v", e.Title, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ProductService writes normalized products and answers duplicate lookups
type ProductService struct {
	store  ProductStore
	policy string
	seen   *lru.Cache[string, struct{}]
	now    func() time.Time
}

func NewProductService(store ProductStore, duplicatePolicy string, cacheSize int) (*ProductService, error) {
	if duplicatePolicy == "" {
		duplicatePolicy = config.DuplicateCreate
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	seen, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}
	return &ProductService{store: store, policy: duplicatePolicy, seen: seen, now: time.Now}, nil
}

// SkipsDuplicates reports whether already ingested listings are skipped
func (s *ProductService) SkipsDuplicates() bool {
	return s.policy == config.DuplicateSkip
}

// IsDuplicate reports whether a product from sourceURL already exists. It is
// always false under the create policy.
func (s *ProductService) IsDuplicate(ctx context.Context, sourceURL string) (bool, error) {
	if !s.SkipsDuplicates() || sourceURL == "" {
		return false, nil
	}

	key := identity.Fingerprint(sourceURL)
	if s.seen.Contains(key) {
		return true, nil
	}

	exists, err := s.store.ProductExistsBySourceKey(ctx, key)
	if err != nil {
		return false, &PersistenceError{Title: sourceURL, Err: err}
	}
	if exists {
		s.seen.Add(key, struct{}{})
	}
	return exists, nil
}

// Save stamps the bookkeeping fields on draft and inserts it.
func (s *ProductService) Save(ctx context.Context, draft *models.Product) (uuid.UUID, error) {
	if len(draft.Images) == 0 {
		return uuid.Nil, &PersistenceError{Title: draft.Title, Err: ErrNoImages}
	}
	if draft.Price < 0 {
		return uuid.Nil, &PersistenceError{Title: draft.Title, Err: fmt.Errorf("negative price %.2f", draft.Price)}
	}

	now := s.now()
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	draft.Status = models.ProductStatusAvailable
	draft.Views = 0
	draft.Likes = []string{}
	draft.CreatedAt = now
	draft.UpdatedAt = now
	if draft.SourceURL != "" {
		draft.SourceKey = identity.Fingerprint(draft.SourceURL)
	}

	id, err := s.store.InsertProduct(ctx, draft)
	if err != nil {
		return uuid.Nil, &PersistenceError{Title: draft.Title, Err: err}
	}
	draft.ID = id

	if draft.SourceKey != "" {
		s.seen.Add(draft.SourceKey, struct{}{})
	}
	return id, nil
}
