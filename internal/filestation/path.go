package filestation

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/acolita/synology-mcp/internal/synoapi"
)

// CanonicalPath enforces a leading slash, strips trailing slashes except on
// the root and normalizes to NFC so equivalent spellings reach the backend
// identically. It is idempotent.
func CanonicalPath(p string) string {
	p = norm.NFC.String(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// CleanName validates a single path element: surrounding space is trimmed
// and separators are dropped.
func CleanName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", synoapi.Validationf(op, "name cannot be empty")
	}
	name = strings.NewReplacer("/", "", "\\", "").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", synoapi.Validationf(op, "invalid name")
	}
	return norm.NFC.String(name), nil
}
