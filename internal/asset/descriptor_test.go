package asset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `{
		"models": [
			{"id": "chat-7b", "source_url": "https://example.com/chat-7b.gguf", "local_path": "chat-7b.gguf"},
			{"id": "embed-small", "local_path": "embed-small.bin"}
		]
	}`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Models) != 2 {
		t.Fatalf("loaded %d models, want 2", len(m.Models))
	}

	d, ok := m.Lookup("chat-7b")
	if !ok || d.SourceURL != "https://example.com/chat-7b.gguf" {
		t.Errorf("Lookup(chat-7b) = %+v, %v", d, ok)
	}
	// Descriptors without a source URL are valid: local-only assets.
	if d, ok := m.Lookup("embed-small"); !ok || d.SourceURL != "" {
		t.Errorf("Lookup(embed-small) = %+v, %v", d, ok)
	}
	if _, ok := m.Lookup("nope"); ok {
		t.Error("Lookup of unknown ID succeeded")
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid json",
			content: `{"models": [`,
			wantErr: "parse manifest",
		},
		{
			name:    "missing id",
			content: `{"models": [{"local_path": "x.bin"}]}`,
			wantErr: "empty id",
		},
		{
			name:    "missing local path",
			content: `{"models": [{"id": "m1"}]}`,
			wantErr: "empty local_path",
		},
		{
			name: "duplicate id",
			content: `{"models": [
				{"id": "m1", "local_path": "a.bin"},
				{"id": "m1", "local_path": "b.bin"}
			]}`,
			wantErr: "duplicate model id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing manifest file")
	}
}
