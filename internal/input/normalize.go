package input

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the same page is not fetched twice
// under cosmetically different spellings. It lowercases the scheme and host,
// strips default ports and fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Dedupe removes repeated URLs after normalization, preserving first-seen
// order. URLs that fail to normalize pass through untouched so validation
// can reject them later with a proper stats row.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		key, err := NormalizeURL(raw)
		if err != nil {
			key = raw
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, raw)
	}
	return out
}
