package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

func parse(markup string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	return doc
}

// firstMatch returns the selection of the first candidate that matches anything.
func firstMatch(root *goquery.Selection, candidates []string) *goquery.Selection {
	for _, sel := range candidates {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		found := root.Find(sel)
		if found.Length() > 0 {
			return found
		}
	}
	return nil
}

// firstValue returns the first non-empty value among the candidates.
func firstValue(root *goquery.Selection, candidates []string) string {
	for _, sel := range candidates {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		var value string
		root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value = nodeValue(s)
			return value == ""
		})
		if value != "" {
			return value
		}
	}
	return ""
}

// nodeValue prefers the content attribute so meta tags work as candidates.
func nodeValue(s *goquery.Selection) string {
	if goquery.NodeName(s) == "meta" {
		return cleanText(s.AttrOr("content", ""))
	}
	return cleanText(s.Text())
}

func cleanText(s string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
}

// linkOf returns the href of s if it is an anchor, otherwise of its first anchor child.
func linkOf(s *goquery.Selection) (string, *goquery.Selection) {
	if goquery.NodeName(s) == "a" {
		if href, ok := s.Attr("href"); ok {
			return href, s
		}
	}
	a := s.Find("a[href]").First()
	if a.Length() == 0 {
		return "", nil
	}
	return a.AttrOr("href", ""), a
}
