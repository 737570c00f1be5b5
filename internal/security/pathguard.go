package security

import (
	"fmt"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// CriticalPaths are refused as targets of destructive operations on exact
// match. Their descendants are not covered.
var CriticalPaths = []string{"/volume1", "/homes", "/var", "/etc", "/usr", "/bin", "/sbin"}

// PathGuard decides whether a canonical NAS path may be the target of a
// destructive operation.
type PathGuard struct {
	mu        sync.RWMutex
	protected []string
}

// NewPathGuard creates a guard with additional doublestar patterns to
// protect on top of the root and CriticalPaths.
func NewPathGuard(protected []string) (*PathGuard, error) {
	g := &PathGuard{}
	if err := g.SetProtected(protected); err != nil {
		return nil, err
	}
	return g, nil
}

// SetProtected replaces the protected patterns.
func (g *PathGuard) SetProtected(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid protected path pattern %q", p)
		}
	}
	g.mu.Lock()
	g.protected = slices.Clone(patterns)
	g.mu.Unlock()
	return nil
}

// IsAllowed checks path, which must already be canonical.
// Returns (allowed, reason).
func (g *PathGuard) IsAllowed(path string) (bool, string) {
	if path == "" || path == "/" {
		return false, "cannot delete root"
	}
	if slices.Contains(CriticalPaths, path) {
		return false, fmt.Sprintf("cannot delete critical system path: %s", path)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.protected {
		if ok, _ := doublestar.Match(p, path); ok {
			return false, fmt.Sprintf("path protected by pattern: %s", p)
		}
	}
	return true, ""
}
