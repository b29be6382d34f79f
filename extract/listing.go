package extract

import (
	"github.com/PuerkitoBio/goquery"
	"supplier_ingest/models"
)

// Listings extracts product listings from a category page.
func (s Strategy) Listings(markup, baseURL string) []models.Listing {
	doc := parse(markup)
	if doc == nil {
		return nil
	}

	matches := firstMatch(doc.Selection, s.ListingContainers)
	if matches == nil {
		return nil
	}

	var listings []models.Listing
	seen := make(map[string]bool)
	matches.Each(func(_ int, el *goquery.Selection) {
		href, anchor := linkOf(el)
		link := Absolute(baseURL, href)
		if link == "" || seen[link] {
			return
		}

		title := firstValue(el, s.ListingTitle)
		if title == "" && anchor != nil {
			title = cleanText(anchor.AttrOr("title", ""))
			if title == "" {
				title = cleanText(anchor.Text())
			}
		}
		if title == "" {
			return
		}

		seen[link] = true
		listings = append(listings, models.Listing{
			Title:    title,
			URL:      link,
			RawPrice: firstValue(el, s.ListingPrice),
		})
	})

	return listings
}
