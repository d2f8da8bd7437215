package models

import (
	"errors"
	"fmt"
	"testing"
)

func validRender() *RenderManifest {
	m := NewRenderManifest(BackendCandidate, "a.pdf", 72, []PageRenderRecord{
		{PageIndex: 0, FileName: "0.png", Width: 10, Height: 20},
		{PageIndex: 1, FileName: "1.png", Width: 10, Height: 20},
	})
	m.SetFingerprint(Fingerprint{Stage: "candidate", Inputs: map[string]string{"dpi": "72"}})
	return m
}

func TestRenderManifestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *RenderManifest)
		wantErr bool
	}{
		{"valid", func(m *RenderManifest) {}, false},
		{"wrong kind", func(m *RenderManifest) { m.Kind = KindDiff }, true},
		{"future version", func(m *RenderManifest) { m.Version = 2 }, true},
		{"unknown backend", func(m *RenderManifest) { m.Backend = "pdfium" }, true},
		{"missing document", func(m *RenderManifest) { m.DocumentName = "" }, true},
		{"zero dpi", func(m *RenderManifest) { m.DPI = 0 }, true},
		{"count mismatch", func(m *RenderManifest) { m.TotalPages = 3 }, true},
		{"no pages", func(m *RenderManifest) { m.Pages = nil; m.TotalPages = 0 }, true},
		{"gap in pages", func(m *RenderManifest) { m.Pages[1].PageIndex = 2 }, true},
		{"empty file name", func(m *RenderManifest) { m.Pages[0].FileName = "" }, true},
		{"zero width", func(m *RenderManifest) { m.Pages[0].Width = 0 }, true},
		{"no fingerprint", func(m *RenderManifest) { m.Inputs = Fingerprint{} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validRender()
			tt.mutate(m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewDiffManifestTotals(t *testing.T) {
	m := NewDiffManifest("a.pdf", "reference/manifest.json", "candidate/manifest.json", []PageDiffRecord{
		{PageIndex: 0, DiffPixelCount: 0, DiffImageFile: "0.png"},
		{PageIndex: 1, DiffPixelCount: 7, DiffImageFile: "1.png"},
	})
	if m.TotalPages != 2 {
		t.Errorf("TotalPages = %d, want 2", m.TotalPages)
	}
	if m.TotalDiffPixels != 7 {
		t.Errorf("TotalDiffPixels = %d, want 7", m.TotalDiffPixels)
	}
	if m.Identical {
		t.Error("Identical = true, want false")
	}
	m.SetFingerprint(Fingerprint{Stage: "diff"})
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	m.Identical = true
	if err := m.Validate(); err == nil {
		t.Error("Validate() accepted identical=true with differing pixels")
	}
}

func TestFingerprintDigestIsStable(t *testing.T) {
	a := Fingerprint{Stage: "reference", Inputs: map[string]string{"dpi": "72", "backend": "reference"}}
	b := Fingerprint{Stage: "reference", Inputs: map[string]string{"backend": "reference", "dpi": "72"}}
	if a.Digest() != b.Digest() {
		t.Error("digest depends on map insertion order")
	}
	if !a.Equal(b) {
		t.Error("Equal() = false for identical inputs")
	}
	c := Fingerprint{Stage: "reference", Inputs: map[string]string{"backend": "reference", "dpi": "300"}}
	if a.Equal(c) || a.Digest() == c.Digest() {
		t.Error("fingerprints with different dpi compare equal")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&ConfigurationError{Msg: "missing"}, KindConfiguration},
		{fmt.Errorf("wrapped: %w", &StageExecutionError{Stage: "candidate", Err: errors.New("exit 1")}), KindStage},
		{&ConsistencyError{ReferencePages: 2, CandidatePages: 3}, KindConsistency},
		{&ManifestError{Path: "x", Err: errors.New("bad")}, KindManifest},
		{errors.New("disk full"), KindIO},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
