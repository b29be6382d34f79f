package services

import (
	"context"
	"fmt"
	"log"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"supplier_ingest/metrics"
	"supplier_ingest/models"
)

// MaxImageBytes caps a single image transfer
const MaxImageBytes = 20 << 20

// ObjectStore is durable storage for re-hosted images
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// AssetFetcher downloads supplier assets with the job's session attached
type AssetFetcher interface {
	FetchBytes(ctx context.Context, rawURL string, limit int64) ([]byte, string, error)
}

// MediaService moves supplier images into object storage
type MediaService struct {
	store   ObjectStore
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewMediaService(store ObjectStore, m *metrics.Metrics) *MediaService {
	return &MediaService{store: store, metrics: m, now: time.Now}
}

// Transfer fetches one image and uploads it under the product's prefix.
// Failures are logged and reported as ok=false.
func (s *MediaService) Transfer(ctx context.Context, f AssetFetcher, imageURL string, productID uuid.UUID, index int) (models.ImageAsset, bool) {
	asset := models.ImageAsset{SourceURL: imageURL, Index: index}

	data, header, err := f.FetchBytes(ctx, imageURL, MaxImageBytes)
	if err != nil {
		return s.fail(asset, "download", err)
	}
	if len(data) == 0 {
		return s.fail(asset, "download", fmt.Errorf("empty body"))
	}
	if len(data) > MaxImageBytes {
		return s.fail(asset, "download", fmt.Errorf("%d bytes exceeds limit", len(data)))
	}

	contentType := detectContentType(imageURL, header, data)
	if !strings.HasPrefix(contentType, "image/") {
		return s.fail(asset, "download", fmt.Errorf("not an image (%s)", contentType))
	}

	asset.ContentType = contentType
	asset.Size = int64(len(data))
	asset.StorageKey = fmt.Sprintf("products/%s/%d_%d%s", productID, index, s.now().UnixNano(), guessExtension(imageURL, contentType))

	publicURL, err := s.store.Put(ctx, asset.StorageKey, data, contentType)
	if err != nil {
		asset.StorageKey = ""
		return s.fail(asset, "upload", err)
	}

	asset.StorageURL = &publicURL
	s.metrics.IncImage("ok")
	log.Printf("Media: uploaded %s -> %s (%d bytes)", imageURL, asset.StorageKey, asset.Size)
	return asset, true
}

// TransferAll transfers images one after another and keeps the successes in
// their original order.
func (s *MediaService) TransferAll(ctx context.Context, f AssetFetcher, imageURLs []string, productID uuid.UUID) []models.ImageAsset {
	var assets []models.ImageAsset
	for i, u := range imageURLs {
		if ctx.Err() != nil {
			break
		}
		if asset, ok := s.Transfer(ctx, f, u, productID, i); ok {
			assets = append(assets, asset)
		}
	}
	return assets
}

// Discard removes uploaded objects, used when the product could not be saved.
func (s *MediaService) Discard(ctx context.Context, assets []models.ImageAsset) {
	for _, a := range assets {
		if a.StorageKey == "" {
			continue
		}
		if err := s.store.Delete(ctx, a.StorageKey); err != nil {
			log.Printf("Media: failed to delete %s: %v", a.StorageKey, err)
		}
	}
}

func (s *MediaService) fail(asset models.ImageAsset, step string, err error) (models.ImageAsset, bool) {
	s.metrics.IncImage(step + "_failed")
	log.Printf("Media: %s %s failed: %v", step, asset.SourceURL, err)
	return asset, false
}

// StorageURLs returns the public URLs of transferred assets
func StorageURLs(assets []models.ImageAsset) []string {
	urls := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.StorageURL != nil {
			urls = append(urls, *a.StorageURL)
		}
	}
	return urls
}

// detectContentType prefers the response header, then the bytes, then the
// URL extension. The extension is only trusted when the header is generic.
func detectContentType(rawURL, header string, data []byte) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err == nil && strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if err == nil && mediaType != "application/octet-stream" && mediaType != "binary/octet-stream" {
		return mediaType
	}
	if byExt := mime.TypeByExtension(urlExt(rawURL)); byExt != "" {
		if extType, _, err := mime.ParseMediaType(byExt); err == nil {
			return extType
		}
	}
	return "application/octet-stream"
}

// guessExtension determines file extension from URL or content-type
func guessExtension(rawURL, contentType string) string {
	ext := urlExt(rawURL)
	if isImageExt(ext) {
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/avif":
		return ".avif"
	case "image/bmp":
		return ".bmp"
	default:
		return ".jpg"
	}
}

func urlExt(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif", ".bmp", ".tiff":
		return true
	}
	return false
}
