package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// These structs define the JSON records each stage persists next to its
// output. A manifest's presence marks the stage as complete.

const (
	KindRender = "render"
	KindDiff   = "diff"

	// ManifestVersion is bumped whenever a manifest field changes meaning.
	ManifestVersion = 1
)

// Backend identifies which renderer produced a set of page images.
type Backend string

const (
	BackendReference Backend = "reference"
	BackendCandidate Backend = "candidate"
)

func (b Backend) Valid() bool {
	return b == BackendReference || b == BackendCandidate
}

// Size is a page raster's pixel dimensions.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Fingerprint records the inputs a stage ran with, so a manifest produced
// under different parameters can be recognised as stale.
type Fingerprint struct {
	Stage  string            `json:"stage"`
	Inputs map[string]string `json:"inputs"`
}

// Digest is the hex sha256 of the fingerprint's canonical JSON form.
// encoding/json sorts map keys, which makes the encoding stable.
func (f Fingerprint) Digest() string {
	b, _ := json.Marshal(f)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two fingerprints describe the same inputs.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Stage != o.Stage || len(f.Inputs) != len(o.Inputs) {
		return false
	}
	for k, v := range f.Inputs {
		if ov, ok := o.Inputs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// PageRenderRecord describes one page image written by a renderer.
// Width and Height are the dimensions of the file on disk.
type PageRenderRecord struct {
	PageIndex int    `json:"page_index"`
	FileName  string `json:"file_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func (p PageRenderRecord) Size() Size {
	return Size{Width: p.Width, Height: p.Height}
}

// RenderManifest is written once per (document, backend) pair.
type RenderManifest struct {
	Kind         string             `json:"kind"`
	Version      int                `json:"version"`
	Backend      Backend            `json:"backend"`
	DocumentName string             `json:"document_name"`
	DPI          int                `json:"dpi"`
	TotalPages   int                `json:"total_pages"`
	Pages        []PageRenderRecord `json:"pages"`
	Inputs       Fingerprint        `json:"fingerprint"`
}

// NewRenderManifest fills in the tag fields and page count.
func NewRenderManifest(backend Backend, document string, dpi int, pages []PageRenderRecord) *RenderManifest {
	return &RenderManifest{
		Kind:         KindRender,
		Version:      ManifestVersion,
		Backend:      backend,
		DocumentName: document,
		DPI:          dpi,
		TotalPages:   len(pages),
		Pages:        pages,
	}
}

// PageSizes returns the on-disk size of every page, in page order.
func (m *RenderManifest) PageSizes() []Size {
	sizes := make([]Size, len(m.Pages))
	for i, p := range m.Pages {
		sizes[i] = p.Size()
	}
	return sizes
}

func (m *RenderManifest) Fingerprint() Fingerprint     { return m.Inputs }
func (m *RenderManifest) SetFingerprint(f Fingerprint) { m.Inputs = f }

func (m *RenderManifest) Validate() error {
	if m.Kind != KindRender {
		return fmt.Errorf("kind is %q, want %q", m.Kind, KindRender)
	}
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if !m.Backend.Valid() {
		return fmt.Errorf("unknown backend %q", m.Backend)
	}
	if m.DocumentName == "" {
		return fmt.Errorf("document_name is required")
	}
	if m.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %d", m.DPI)
	}
	if m.TotalPages < 1 || m.TotalPages != len(m.Pages) {
		return fmt.Errorf("total_pages is %d but %d pages are listed", m.TotalPages, len(m.Pages))
	}
	for i, p := range m.Pages {
		if p.PageIndex != i {
			return fmt.Errorf("page %d has page_index %d", i, p.PageIndex)
		}
		if p.FileName == "" {
			return fmt.Errorf("page %d: file_name is required", i)
		}
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("page %d: invalid size %dx%d", i, p.Width, p.Height)
		}
	}
	if m.Inputs.Stage == "" {
		return fmt.Errorf("fingerprint is required")
	}
	return nil
}

// PageDiffRecord is the comparison result for one page pair.
type PageDiffRecord struct {
	PageIndex       int     `json:"page_index"`
	DiffPixelCount  int     `json:"diff_pixel_count"`
	TotalPixelCount int     `json:"total_pixel_count"`
	DiffPercentage  float64 `json:"diff_percentage"`
	Identical       bool    `json:"identical"`
	ImageSize       Size    `json:"image_size"`
	DiffImageFile   string  `json:"diff_image_file"`
}

// DiffManifest is written once per document after both renders exist.
type DiffManifest struct {
	Kind                 string           `json:"kind"`
	Version              int              `json:"version"`
	DocumentName         string           `json:"document_name"`
	ReferenceManifestRef string           `json:"reference_manifest_ref"`
	CandidateManifestRef string           `json:"candidate_manifest_ref"`
	TotalPages           int              `json:"total_pages"`
	Pages                []PageDiffRecord `json:"pages"`
	TotalDiffPixels      int              `json:"total_diff_pixels"`
	Identical            bool             `json:"identical"`
	Inputs               Fingerprint      `json:"fingerprint"`
}

// NewDiffManifest derives the totals from the page records.
func NewDiffManifest(document, referenceRef, candidateRef string, pages []PageDiffRecord) *DiffManifest {
	total := 0
	for _, p := range pages {
		total += p.DiffPixelCount
	}
	return &DiffManifest{
		Kind:                 KindDiff,
		Version:              ManifestVersion,
		DocumentName:         document,
		ReferenceManifestRef: referenceRef,
		CandidateManifestRef: candidateRef,
		TotalPages:           len(pages),
		Pages:                pages,
		TotalDiffPixels:      total,
		Identical:            total == 0,
	}
}

func (m *DiffManifest) Fingerprint() Fingerprint     { return m.Inputs }
func (m *DiffManifest) SetFingerprint(f Fingerprint) { m.Inputs = f }

func (m *DiffManifest) Validate() error {
	if m.Kind != KindDiff {
		return fmt.Errorf("kind is %q, want %q", m.Kind, KindDiff)
	}
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.DocumentName == "" {
		return fmt.Errorf("document_name is required")
	}
	if m.ReferenceManifestRef == "" || m.CandidateManifestRef == "" {
		return fmt.Errorf("reference_manifest_ref and candidate_manifest_ref are required")
	}
	if m.TotalPages != len(m.Pages) {
		return fmt.Errorf("total_pages is %d but %d pages are listed", m.TotalPages, len(m.Pages))
	}
	sum := 0
	for i, p := range m.Pages {
		if p.PageIndex != i {
			return fmt.Errorf("page %d has page_index %d", i, p.PageIndex)
		}
		if p.DiffImageFile == "" {
			return fmt.Errorf("page %d: diff_image_file is required", i)
		}
		sum += p.DiffPixelCount
	}
	if sum != m.TotalDiffPixels {
		return fmt.Errorf("total_diff_pixels is %d but pages sum to %d", m.TotalDiffPixels, sum)
	}
	if m.Identical != (m.TotalDiffPixels == 0) {
		return fmt.Errorf("identical=%t contradicts total_diff_pixels=%d", m.Identical, m.TotalDiffPixels)
	}
	if m.Inputs.Stage == "" {
		return fmt.Errorf("fingerprint is required")
	}
	return nil
}
