package source

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/renderparity/internal/models"
)

func TestDiscoverSortsAndHashes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf", "notes.txt", "c.PDFX"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Discover() found %d documents, want 2", len(docs))
	}
	if docs[0].Name != "a.pdf" || docs[1].Name != "b.pdf" {
		t.Errorf("order = %s, %s; want a.pdf, b.pdf", docs[0].Name, docs[1].Name)
	}
	if docs[0].Stem != "a" {
		t.Errorf("Stem = %q, want a", docs[0].Stem)
	}
	sum := sha256.Sum256([]byte("a.pdf"))
	if want := hex.EncodeToString(sum[:]); docs[0].SHA256 != want {
		t.Errorf("SHA256 = %s, want %s", docs[0].SHA256, want)
	}
}

func TestDiscoverConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"missing folder", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
		{"empty folder", func(t *testing.T) string { return t.TempDir() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Discover(tt.dir(t))
			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Discover() error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestContentAddressedName(t *testing.T) {
	if got := ContentAddressedName("abc"); got != "abc.pdf" {
		t.Errorf("ContentAddressedName() = %q", got)
	}
}
