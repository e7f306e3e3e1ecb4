package crawler

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
)

// NormalizeURL canonicalizes an absolute address so equivalent spellings
// compare equal. It lowercases the scheme and host, resolves dot segments and
// duplicate slashes, removes the fragment and default ports, sorts the raw
// query parameters, and drops an empty trailing "?". User info keeps its
// case. Applying it twice yields the same result as applying it once.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return rawURL, fmt.Errorf("parse url %q: not an absolute address", rawURL)
	}

	// Lowercase scheme and host
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if err := cleanPath(u); err != nil {
		return rawURL, err
	}

	// Remove fragment
	u.Fragment = ""
	u.RawFragment = ""

	// Remove default ports
	switch {
	case u.Scheme == "http" && u.Port() == "80",
		u.Scheme == "https" && u.Port() == "443":
		u.Host = strings.TrimSuffix(u.Host, ":"+u.Port())
	}

	u.RawQuery = sortQuery(u.RawQuery)
	if u.RawQuery == "" {
		u.ForceQuery = false
	}
	return u.String(), nil
}

// cleanPath resolves "." and ".." segments and collapses duplicate slashes
// on the escaped form so percent-encoding survives untouched.
func cleanPath(u *url.URL) error {
	escaped := u.EscapedPath()
	if escaped == "" {
		return nil
	}
	trailing := strings.HasSuffix(escaped, "/") ||
		strings.HasSuffix(escaped, "/.") ||
		strings.HasSuffix(escaped, "/..")
	cleaned := path.Clean(escaped)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	if trailing && cleaned != "/" {
		cleaned += "/"
	}
	unescaped, err := url.PathUnescape(cleaned)
	if err != nil {
		return fmt.Errorf("unescape path: %w", err)
	}
	u.Path = unescaped
	u.RawPath = cleaned
	return nil
}

func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	params := strings.Split(raw, "&")
	params = slices.DeleteFunc(params, func(p string) bool { return p == "" })
	slices.Sort(params)
	return strings.Join(params, "&")
}

// HostOf returns the lowercase host of rawURL, or "" if it cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
