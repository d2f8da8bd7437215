package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/raster"
	"github.com/Lllllllleong/renderparity/internal/source"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	sizes   []models.Size
	failAt  int
	closed  bool
	lastDPI float64
}

func (f *fakeSource) NumPage() int { return len(f.sizes) }

func (f *fakeSource) RenderPage(index int, dpi float64) (image.Image, error) {
	f.lastDPI = dpi
	if index == f.failAt {
		return nil, errors.New("bad content stream")
	}
	s := f.sizes[index]
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func testDoc() source.Document {
	return source.Document{Name: "doc.pdf", Stem: "doc", Path: "doc.pdf", SHA256: "abc"}
}

func TestReferenceResamplesToTargets(t *testing.T) {
	src := &fakeSource{sizes: []models.Size{{Width: 20, Height: 30}, {Width: 20, Height: 30}}, failAt: -1}
	r := &Reference{
		Open:   func(string) (PageSource, error) { return src, nil },
		Name:   "fake",
		Logger: discard,
	}
	dir := t.TempDir()
	targets := []models.Size{{Width: 20, Height: 30}, {Width: 25, Height: 35}}

	m, err := r.Render(context.Background(), testDoc(), 144, targets, dir)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if !src.closed {
		t.Error("document not closed")
	}
	if src.lastDPI != 144 {
		t.Errorf("rendered at %v dpi, want 144", src.lastDPI)
	}
	if m.Backend != models.BackendReference || m.TotalPages != 2 || m.DPI != 144 {
		t.Errorf("manifest = %+v", m)
	}
	for i, p := range m.Pages {
		if p.Size() != targets[i] {
			t.Errorf("page %d recorded as %v, want %v", i, p.Size(), targets[i])
		}
		onDisk, err := raster.DecodeSize(filepath.Join(dir, p.FileName))
		if err != nil {
			t.Fatal(err)
		}
		if onDisk != p.Size() {
			t.Errorf("page %d is %v on disk, manifest says %v", i, onDisk, p.Size())
		}
	}
}

func TestReferenceWithoutTargetsKeepsNativeSize(t *testing.T) {
	src := &fakeSource{sizes: []models.Size{{Width: 11, Height: 13}}, failAt: -1}
	r := &Reference{Open: func(string) (PageSource, error) { return src, nil }, Logger: discard}
	m, err := r.Render(context.Background(), testDoc(), 72, nil, t.TempDir())
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if got := m.Pages[0].Size(); got != (models.Size{Width: 11, Height: 13}) {
		t.Errorf("page size = %v, want 11x13", got)
	}
}

func TestReferenceFailures(t *testing.T) {
	tests := []struct {
		name string
		open Opener
	}{
		{"open fails", func(string) (PageSource, error) { return nil, errors.New("not a pdf") }},
		{"page fails", func(string) (PageSource, error) {
			return &fakeSource{sizes: []models.Size{{Width: 1, Height: 1}, {Width: 1, Height: 1}}, failAt: 1}, nil
		}},
		{"no pages", func(string) (PageSource, error) { return &fakeSource{failAt: -1}, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reference{Open: tt.open, Logger: discard}
			_, err := r.Render(context.Background(), testDoc(), 72, nil, t.TempDir())
			var stageErr *models.StageExecutionError
			if !errors.As(err, &stageErr) {
				t.Errorf("Render() error = %v, want StageExecutionError", err)
			}
		})
	}
}

// writeTool writes a shell script standing in for the candidate executable.
func writeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("candidate tests need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pdf-handler")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// copyTool copies every PNG in fixtures into the directory given by -o.
func copyTool(t *testing.T, fixtures, argsFile string) string {
	return writeTool(t, fmt.Sprintf(`echo "$@" > %q
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cp %q/*.png "$out"/`, argsFile, fixtures))
}

func TestCandidateRenumbersOutput(t *testing.T) {
	fixtures := t.TempDir()
	// lexical order is 1.png, 10.png, 2.png; widths tell them apart
	for _, w := range []int{1, 10, 2} {
		img := image.NewRGBA(image.Rect(0, 0, w, 5))
		if err := raster.Save(filepath.Join(fixtures, fmt.Sprintf("%d.png", w)), img); err != nil {
			t.Fatal(err)
		}
	}
	argsFile := filepath.Join(t.TempDir(), "args")
	c, err := NewCandidate(copyTool(t, fixtures, argsFile), time.Minute, discard)
	if err != nil {
		t.Fatalf("NewCandidate() = %v", err)
	}

	dir := t.TempDir()
	m, err := c.Render(context.Background(), testDoc(), 150, nil, dir)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}

	wantWidths := []int{1, 10, 2}
	if m.TotalPages != len(wantWidths) {
		t.Fatalf("TotalPages = %d, want %d", m.TotalPages, len(wantWidths))
	}
	for i, p := range m.Pages {
		if p.FileName != PageFileName(i) {
			t.Errorf("page %d file = %s", i, p.FileName)
		}
		if p.Width != wantWidths[i] {
			t.Errorf("page %d width = %d, want %d", i, p.Width, wantWidths[i])
		}
		size, err := raster.DecodeSize(filepath.Join(dir, p.FileName))
		if err != nil {
			t.Fatal(err)
		}
		if size != p.Size() {
			t.Errorf("page %d on disk %v, manifest %v", i, size, p.Size())
		}
	}
	left, _ := filepath.Glob(filepath.Join(dir, ".staging-*"))
	if len(left) != 0 {
		t.Errorf("staging files left behind: %v", left)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("doc.pdf -f png -o %s --dpi 150", dir)
	if got := strings.TrimSpace(string(args)); got != want {
		t.Errorf("arguments = %q, want %q", got, want)
	}
}

func TestCandidateFailures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		timeout    time.Duration
		wantStderr string
		wantMsg    string
	}{
		{"nonzero exit", "echo 'cannot parse xref' >&2\nexit 3", time.Minute, "cannot parse xref", "exit status 3"},
		{"no output", "exit 0", time.Minute, "", "no page images"},
		{"timeout", "exec sleep 5", 100 * time.Millisecond, "", "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCandidate(writeTool(t, tt.body), tt.timeout, discard)
			if err != nil {
				t.Fatal(err)
			}
			_, err = c.Render(context.Background(), testDoc(), 72, nil, t.TempDir())
			var stageErr *models.StageExecutionError
			if !errors.As(err, &stageErr) {
				t.Fatalf("Render() error = %v, want StageExecutionError", err)
			}
			if stageErr.Stderr != tt.wantStderr {
				t.Errorf("Stderr = %q, want %q", stageErr.Stderr, tt.wantStderr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestNewCandidateMissingExecutable(t *testing.T) {
	_, err := NewCandidate(filepath.Join(t.TempDir(), "missing"), 0, discard)
	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("NewCandidate() error = %v, want ConfigurationError", err)
	}
}
