package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var trackingParams = regexp.MustCompile(`^(utm_.*|ref|source|fbclid|gclid)$`)

var skipExtensions = regexp.MustCompile(`(?i)\.(pdf|docx?|xlsx?|pptx?|zip|rar|tar|gz|jpe?g|png|gif|svg|webp|ico|mp[34]|avi|mov|wmv|flv|wav|ogg)$`)

// NormalizeURL standardizes a URL so frontier dedup sees one form per page.
// It lowercases the scheme and host, removes default ports and fragments,
// drops tracking parameters, and sorts what query remains.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	for key := range q {
		if trackingParams.MatchString(strings.ToLower(key)) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Followable reports whether a link is worth adding to the crawl frontier.
// Binary and media resources never contain entity records.
func Followable(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	if strings.HasPrefix(rawURL, "mailto:") || strings.HasPrefix(rawURL, "javascript:") || strings.HasPrefix(rawURL, "tel:") {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return !skipExtensions.MatchString(u.Path)
}

// Host extracts the lowercased hostname, or "" for unparseable input.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameHost reports whether two URLs share a hostname, case-insensitively.
func SameHost(a, b string) bool {
	ha, hb := Host(a), Host(b)
	return ha != "" && ha == hb
}

// ResolveRef resolves a possibly relative href against its page URL.
func ResolveRef(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
