package attachment

import (
	"path/filepath"
	"strings"
)

// extByMime maps the content types we know to a file extension.
var extByMime = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"text/plain":      ".txt",
}

const fallbackExt = ".bin"

// ExtensionFor returns the extension for a content type, ".bin" when unknown.
func ExtensionFor(contentType string) string {
	if ext, ok := extByMime[contentType]; ok {
		return ext
	}
	return fallbackExt
}

// Sanitize replaces every rune outside [A-Za-z0-9._-] with '_'.
func Sanitize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if isSafeRune(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// HasExtension reports whether name ends in an extension. A dot that only
// prefixes the name (".env") does not count.
func HasExtension(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" {
		return false
	}
	return strings.Trim(strings.TrimSuffix(name, ext), ".") != ""
}

// ResolveName sanitizes name and appends an extension derived from
// contentType when it has none.
func ResolveName(name, contentType string) string {
	name = Sanitize(name)
	if HasExtension(name) {
		return name
	}
	return name + ExtensionFor(contentType)
}
