package extract

import (
	"github.com/PuerkitoBio/goquery"
	"supplier_ingest/models"
)

// Categories extracts supplier categories from the landing page markup.
func (s Strategy) Categories(markup, baseURL string) []models.Category {
	doc := parse(markup)
	if doc == nil {
		return nil
	}

	matches := firstMatch(doc.Selection, s.CategoryContainers)
	if matches == nil {
		return nil
	}

	var categories []models.Category
	seen := make(map[string]bool)
	matches.Each(func(_ int, el *goquery.Selection) {
		href, anchor := linkOf(el)
		link := Absolute(baseURL, href)
		if link == "" || seen[link] {
			return
		}

		name := cleanText(anchor.Text())
		if name == "" {
			name = cleanText(el.Text())
		}
		if name == "" {
			name = cleanText(anchor.AttrOr("title", ""))
		}
		if name == "" {
			return
		}

		seen[link] = true
		categories = append(categories, models.Category{Name: name, URL: link})
	})

	return categories
}
