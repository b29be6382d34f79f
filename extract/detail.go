package extract

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"supplier_ingest/models"
)

var stripPolicy = bluemonday.StrictPolicy()

// Detail extracts the product fields of a single listing page.
func (s Strategy) Detail(markup, baseURL string) models.ListingDetail {
	doc := parse(markup)
	if doc == nil {
		return models.ListingDetail{}
	}

	detail := models.ListingDetail{
		Title:    firstValue(doc.Selection, s.DetailTitle),
		RawPrice: firstValue(doc.Selection, s.DetailPrice),
		Brand:    firstValue(doc.Selection, s.DetailBrand),
		Images:   s.images(doc.Selection, baseURL),
	}

	for _, sel := range s.DetailDescription {
		found := doc.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		var raw string
		if found.Is("meta") {
			raw = found.AttrOr("content", "")
		} else {
			raw, _ = found.Html()
		}
		if text := SanitizeText(raw); text != "" {
			detail.Description = text
			break
		}
	}

	return detail
}

// SanitizeText strips all markup from raw and collapses whitespace.
func SanitizeText(raw string) string {
	raw = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "</p>\n").Replace(raw)
	text := html.UnescapeString(stripPolicy.Sanitize(raw))

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = cleanText(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
