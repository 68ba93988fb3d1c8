package asset

import (
	"os"
	"path/filepath"
)

// Locator answers whether a model asset is already present under the storage
// root. It performs a single filesystem stat and nothing else: no network
// access, no side effects.
type Locator struct {
	root string
}

// NewLocator creates a Locator over the given storage root.
func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Path resolves the descriptor's local path against the storage root. Only
// the final path segment of LocalPath is used, so a manifest cannot point
// outside the root.
func (l *Locator) Path(d Descriptor) string {
	if d.LocalPath == "" {
		return ""
	}
	return filepath.Join(l.root, filepath.Base(d.LocalPath))
}

// Exists reports whether the asset file is present. Filesystem errors are
// treated as "not present" so that callers fall through to a fetch attempt
// rather than silently using a file they cannot read.
func (l *Locator) Exists(d Descriptor) bool {
	p := l.Path(d)
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
