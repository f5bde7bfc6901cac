// Package middleware implements the per-request middleware pipeline
// (spec.md §4.3): Filter-Tools, Tool-Overrides, and Header-Forwarding, plus
// the per-namespace middleware cache.
package middleware

import "strings"

// deniedHeaders is the exact-match (lowercase) denylist from spec.md §6,
// enforced even if an operator configures one of these in forward_headers.
var deniedHeaders = map[string]struct{}{
	"host":                {},
	"cookie":              {},
	"set-cookie":          {},
	"content-length":      {},
	"transfer-encoding":   {},
	"connection":          {},
	"upgrade":             {},
	"keep-alive":          {},
	"proxy-authorization": {},
}

// deniedPrefixes is the prefix-match denylist from spec.md §6.
var deniedPrefixes = []string{"proxy-", "sec-"}

// isDeniedHeader reports whether name (case-insensitive) must never be
// forwarded downstream regardless of configuration.
func isDeniedHeader(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := deniedHeaders[lower]; ok {
		return true
	}
	for _, prefix := range deniedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// sanitizeHeaderValue strips CR, LF, and NUL from a header value before it
// is forwarded downstream (prevents header/request injection).
func sanitizeHeaderValue(value string) string {
	return strings.NewReplacer("\r", "", "\n", "", "\x00", "").Replace(value)
}

// ForwardHeaders copies the headers named in allowed from src into a fresh
// map, applying the deny policy and value sanitization. Array-valued
// headers (http.Header's []string) collapse to the first element.
func ForwardHeaders(allowed []string, src map[string][]string) map[string]string {
	out := make(map[string]string, len(allowed))
	for _, name := range allowed {
		if isDeniedHeader(name) {
			continue
		}
		values, ok := lookupHeader(src, name)
		if !ok || len(values) == 0 {
			continue
		}
		out[name] = sanitizeHeaderValue(values[0])
	}
	return out
}

// lookupHeader does a case-insensitive lookup into an http.Header-shaped map.
func lookupHeader(src map[string][]string, name string) ([]string, bool) {
	if values, ok := src[name]; ok {
		return values, true
	}
	lower := strings.ToLower(name)
	for k, v := range src {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}
