package asset

import (
	"encoding/json"
	"fmt"
	"os"
)

// Descriptor identifies a model asset: where to fetch it from and where it
// lives under the local storage root. Descriptors are read-only configuration
// created at startup and never mutated.
type Descriptor struct {
	// ID is the stable identifier used by callers, e.g. "embed-gecko-v1".
	ID string `json:"id"`

	// SourceURL is the remote location of the asset. May be empty, which
	// signals that no remote copy is available and the asset must be placed
	// locally by hand.
	SourceURL string `json:"source_url,omitempty"`

	// LocalPath is the path of the asset relative to the storage root.
	// Must be non-empty.
	LocalPath string `json:"local_path"`
}

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor: empty id")
	}
	if d.LocalPath == "" {
		return fmt.Errorf("descriptor %s: empty local_path", d.ID)
	}
	return nil
}

// Manifest is the set of model descriptors known to this process, loaded
// once from a JSON file at startup.
type Manifest struct {
	Models []Descriptor `json:"models"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(m.Models))
	for _, d := range m.Models {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("manifest %s: duplicate model id %s", path, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return &m, nil
}

// Lookup returns the descriptor with the given ID, or false if unknown.
func (m *Manifest) Lookup(id string) (Descriptor, bool) {
	for _, d := range m.Models {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
