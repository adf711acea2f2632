package identity

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)

	// Query params that vary per visit but never change the product.
	trackingParams = map[string]bool{
		"gclid":   true,
		"fbclid":  true,
		"ref":     true,
		"ref_src": true,
		"spm":     true,
		"_ga":     true,
	}
)

// ResolveURL resolves href against the page it was found on. Empty or
// unparseable hrefs resolve to "".
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// NormalizeURL returns the dedupe key for a product URL: lowercase scheme and
// host, no fragment, no tracking params, sorted query, no trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if trackingParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}

	return u.String()
}

// NormalizeName collapses whitespace and lowercases a product name. Used as
// the dedupe key when a card has no link.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return multiSpaceRegex.ReplaceAllString(name, " ")
}
