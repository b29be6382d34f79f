package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams never identify a product and are dropped before comparison
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"ref":          true,
	"sessionid":    true,
	"sid":          true,
}

// Fingerprint returns a stable key for a supplier listing URL.
func Fingerprint(sourceURL string) string {
	hash := sha256.Sum256([]byte(NormalizeURL(sourceURL)))
	return hex.EncodeToString(hash[:16])
}

// NormalizeURL lowercases scheme and host, drops a leading www, the fragment,
// tracking parameters and trailing slashes, and sorts the remaining query.
// Unparseable input is only trimmed and lowercased.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")

	path := strings.TrimRight(u.EscapedPath(), "/")

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		if trackingParams[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		vals := query[k]
		sort.Strings(vals)
		for j, v := range vals {
			if j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
