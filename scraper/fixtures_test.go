package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
	"supplier_ingest/config"
	"supplier_ingest/models"
	"supplier_ingest/services"
)

const shopURL = "https://shop.example.com"

type memProductStore struct {
	mu         sync.Mutex
	inserted   []models.Product
	existing   map[string]bool
	failTitles map[string]bool
}

func (s *memProductStore) InsertProduct(_ context.Context, p *models.Product) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTitles[p.Title] {
		return uuid.Nil, errors.New("write conflict")
	}
	s.inserted = append(s.inserted, *p)
	return p.ID, nil
}

func (s *memProductStore) ProductExistsBySourceKey(_ context.Context, key string) (bool, error) {
	return s.existing[key], nil
}

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string]string
	deleted []string
}

func (s *memObjectStore) Put(_ context.Context, key string, _ []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = contentType
	return "https://cdn.test/" + key, nil
}

func (s *memObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type harness struct {
	orch      *Orchestrator
	transport *httpmock.MockTransport
	products  *memProductStore
	objects   *memObjectStore
}

func newHarness(t *testing.T, profileYAML string, policy string) *harness {
	t.Helper()

	if profileYAML == "" {
		profileYAML = "id: demo\nbase_url: " + shopURL + "\n"
	}
	profile, err := config.ParseProfile([]byte(profileYAML))
	require.NoError(t, err)

	cfg := &config.Config{
		Supplier: profile.ID,
		Scraper: config.ScraperConfig{
			Multiplier:      1.3,
			DuplicatePolicy: policy,
		},
	}

	h := &harness{
		transport: httpmock.NewMockTransport(),
		products:  &memProductStore{existing: map[string]bool{}, failTitles: map[string]bool{}},
		objects:   &memObjectStore{objects: map[string]string{}},
	}

	productService, err := services.NewProductService(h.products, policy, 16)
	require.NoError(t, err)

	h.orch = NewOrchestrator(cfg, profile, nil)
	h.orch.SetTransport(h.transport)
	h.orch.SetServices(productService, services.NewMediaService(h.objects, nil))

	h.transport.RegisterRegexpResponder("GET", regexp.MustCompile(`^https://shop\.example\.com/img/.*`),
		func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Path, "broken") {
				return httpmock.NewStringResponse(http.StatusNotFound, "gone"), nil
			}
			resp := httpmock.NewBytesResponse(http.StatusOK, []byte("\xff\xd8\xff\xe0fakejpeg"))
			resp.Header.Set("Content-Type", "image/jpeg")
			return resp, nil
		})

	return h
}

func (h *harness) page(path, body string) {
	h.transport.RegisterResponder("GET", shopURL+path, httpmock.NewStringResponder(http.StatusOK, body))
}

func (h *harness) calls(path string) int {
	return h.transport.GetCallCountInfo()["GET "+shopURL+path]
}

func landingPage(categories ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><nav class="categories">`)
	for _, c := range categories {
		fmt.Fprintf(&b, `<a href="/c/%s">%s</a>`, c, strings.ToUpper(c[:1])+c[1:])
	}
	b.WriteString(`</nav></body></html>`)
	return b.String()
}

func categoryPage(slugs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="products">`)
	for _, s := range slugs {
		fmt.Fprintf(&b, `<div class="product-card"><a href="/p/%s"><span class="product-title">Item %s</span></a><span class="price">10,00 €</span></div>`, s, s)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func listingPage(title, price string, images ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><h1 class="product-title">%s</h1><span class="product-price">%s</span>`, title, price)
	b.WriteString(`<div class="product-description"><p>Soft <b>leather</b></p></div><span class="brand">Acme</span>`)
	if len(images) > 0 {
		b.WriteString(`<div class="product-gallery">`)
		for _, img := range images {
			fmt.Fprintf(&b, `<img src="/img/%s">`, img)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}
