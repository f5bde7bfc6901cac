package proxy

import "strings"

// mangleSeparator joins a sanitized backend name and an original tool
// name into the upstream-visible name, e.g. "math__add". Only the first
// occurrence is split back off on a call (see splitMangled), so nested
// prefixes such as "Parent__Child__tool" are tolerated.
const mangleSeparator = "__"

// sanitize maps any character outside [A-Za-z0-9_-] to '_', collapses runs
// of '_', and trims leading/trailing '_'. It is idempotent: sanitize(sanitize(x)) == sanitize(x).
func sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	collapsed := collapseUnderscores(b.String())
	return strings.Trim(collapsed, "_")
}

// Sanitize is the exported form used by other packages (middleware,
// supervisor) that need the same normalization for backend names.
func Sanitize(name string) string { return sanitize(name) }

func collapseUnderscores(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevUnderscore := false
	for _, r := range s {
		if r == '_' {
			if prevUnderscore {
				continue
			}
			prevUnderscore = true
		} else {
			prevUnderscore = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// mangle builds the upstream-visible name for a tool/prompt/resource
// exposed by backend serverName.
func mangle(serverName, originalName string) string {
	return sanitize(serverName) + mangleSeparator + originalName
}

// Mangle is the exported form.
func Mangle(serverName, originalName string) string { return mangle(serverName, originalName) }

// splitMangled splits a mangled name at the first "__" only. The prefix is
// the sanitized server name, the suffix is the original name (which may
// itself contain "__", e.g. nested "A__B__t" -> ("A", "B__t")).
func splitMangled(mangled string) (prefix, suffix string, ok bool) {
	idx := strings.Index(mangled, mangleSeparator)
	if idx < 0 {
		return "", "", false
	}
	return mangled[:idx], mangled[idx+len(mangleSeparator):], true
}

// SplitMangled is the exported form.
func SplitMangled(mangled string) (prefix, suffix string, ok bool) { return splitMangled(mangled) }
