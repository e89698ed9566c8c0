package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

var assetExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".bmp": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".mp4": {}, ".mov": {}, ".avi": {}, ".webm": {}, ".mp3": {}, ".wav": {},
	".css": {}, ".js": {}, ".mjs": {}, ".json": {}, ".xml": {}, ".rss": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {}, ".csv": {},
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, fragments and
// trailing slashes, and sorts query parameters.
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

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Resolve turns href into an absolute normalized URL relative to base.
// Non-navigational schemes (mailto, tel, javascript) are rejected.
func Resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	normalized, err := NormalizeURL(abs.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

// SameOrigin reports whether two URLs belong to one site: same host and port.
// The scheme and a leading "www." are ignored, so http/https and apex/www
// variants of a site count as one. Default ports compare equal to none.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return stripWWW(a.Hostname()) == stripWWW(b.Hostname()) && sitePort(a) == sitePort(b)
}

func sitePort(u *url.URL) string {
	port := u.Port()
	switch {
	case port == "80" && strings.EqualFold(u.Scheme, "http"):
		return ""
	case port == "443" && strings.EqualFold(u.Scheme, "https"):
		return ""
	}
	return port
}

// IsAsset reports whether the URL points at a static file rather than a page.
func IsAsset(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	_, ok := assetExtensions[ext]
	return ok
}

// Origin returns scheme://host for the URL.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
