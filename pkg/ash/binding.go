package ash

import "strings"

// NormalizeBinding reduces a method and path to the canonical binding form
// used throughout ASH: uppercase method, query string stripped, a single
// leading slash, internal slash runs collapsed, and no trailing slash
// except for the root path (§4.2).
func NormalizeBinding(method, path string) string {
	method = strings.ToUpper(strings.TrimSpace(method))

	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = collapseSlashes(path)
	if path != "/" {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	return method + " " + path
}

// collapseSlashes replaces every run of consecutive '/' with a single '/'.
func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
