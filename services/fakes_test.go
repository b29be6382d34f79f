package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"supplier_ingest/models"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut bool
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeObjectStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return "", errors.New("bucket unavailable")
	}
	s.objects[key] = data
	s.types[key] = contentType
	return "https://cdn.test/" + key, nil
}

func (s *fakeObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeAsset struct {
	data        []byte
	contentType string
	err         error
}

type fakeFetcher map[string]fakeAsset

func (f fakeFetcher) FetchBytes(_ context.Context, rawURL string, limit int64) ([]byte, string, error) {
	a, ok := f[rawURL]
	if !ok {
		return nil, "", fmt.Errorf("fetch %s: status 404", rawURL)
	}
	data := a.data
	if limit > 0 && int64(len(data)) > limit+1 {
		data = data[:limit+1]
	}
	return data, a.contentType, a.err
}

type fakeProductStore struct {
	inserted   []models.Product
	existing   map[string]bool
	lookups    int
	failInsert bool
}

func (s *fakeProductStore) InsertProduct(_ context.Context, p *models.Product) (uuid.UUID, error) {
	if s.failInsert {
		return uuid.Nil, errors.New("connection reset")
	}
	s.inserted = append(s.inserted, *p)
	return p.ID, nil
}

func (s *fakeProductStore) ProductExistsBySourceKey(_ context.Context, key string) (bool, error) {
	s.lookups++
	return s.existing[key], nil
}
