package extract

import (
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Images extracts product image URLs from a listing page. Decorative assets
// are dropped and the result is capped at MaxImages.
func (s Strategy) Images(markup, baseURL string) []string {
	doc := parse(markup)
	if doc == nil {
		return nil
	}
	return s.images(doc.Selection, baseURL)
}

func (s Strategy) images(root *goquery.Selection, baseURL string) []string {
	limit := s.MaxImages
	if limit <= 0 {
		limit = DefaultMaxImages
	}

	var urls []string
	seen := make(map[string]bool)
	for _, sel := range s.ImageElements {
		root.Find(sel).EachWithBreak(func(_ int, img *goquery.Selection) bool {
			if src := s.imageSource(img, baseURL); src != "" && !seen[src] {
				seen[src] = true
				urls = append(urls, src)
			}
			return len(urls) < limit
		})
		// later candidates are broader fallbacks
		if len(urls) > 0 {
			break
		}
	}
	return urls
}

func (s Strategy) imageSource(img *goquery.Selection, baseURL string) string {
	for _, attr := range s.ImageAttributes {
		raw, ok := img.Attr(attr)
		if !ok {
			continue
		}
		// srcset style values carry a width descriptor
		raw = strings.TrimSpace(raw)
		if fields := strings.Fields(raw); len(fields) > 0 {
			raw = fields[0]
		}
		abs := Absolute(baseURL, raw)
		if abs == "" || s.decorative(abs) {
			continue
		}
		return abs
	}
	return ""
}

func (s Strategy) decorative(src string) bool {
	name := strings.ToLower(path.Base(src))
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	for _, p := range s.DecorativePatterns {
		if p != "" && strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
