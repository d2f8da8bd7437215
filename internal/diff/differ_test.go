package diff

import (
	"image"
	"image/color"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/raster"
)

func newTestDiffer() *Differ {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDiffIdentical(t *testing.T) {
	d := newTestDiffer()
	res, err := d.Diff(solid(10, 8, color.White), solid(10, 8, color.White))
	if err != nil {
		t.Fatalf("Diff() = %v", err)
	}
	if res.DiffPixels != 0 {
		t.Errorf("DiffPixels = %d, want 0", res.DiffPixels)
	}
	if got := res.Triage.Bounds(); got != image.Rect(0, 0, 30, 8) {
		t.Errorf("triage bounds = %v, want 30x8", got)
	}
	rec := res.Record(0, "0.png")
	if !rec.Identical || rec.DiffPercentage != 0 || rec.TotalPixelCount != 80 {
		t.Errorf("Record() = %+v", rec)
	}
	// The diff panel is the faded expected image, not an empty one.
	if c := res.Triage.RGBAAt(15, 4); c.A != 255 {
		t.Errorf("diff panel pixel = %v, want opaque", c)
	}
}

// withBlock returns a white page with a 20x20 black block at (x, y).
func withBlock(w, h, x, y int) *image.RGBA {
	img := solid(w, h, color.White)
	for by := y; by < y+20; by++ {
		for bx := x; bx < x+20; bx++ {
			img.Set(bx, by, color.Black)
		}
	}
	return img
}

func TestDiffFindsBlockAnywhereOnThePage(t *testing.T) {
	tests := []struct {
		name string
		x, y int
	}{
		{"left edge", 0, 40},
		{"left quarter", 5, 10},
		{"right half", 60, 40},
		{"right edge", 80, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestDiffer().Diff(solid(100, 100, color.White), withBlock(100, 100, tt.x, tt.y))
			if err != nil {
				t.Fatalf("Diff() = %v", err)
			}
			if res.DiffPixels != 400 {
				t.Errorf("DiffPixels = %d, want 400", res.DiffPixels)
			}
			if res.Record(0, "0.png").Identical {
				t.Error("Identical = true for a page with a black block")
			}
		})
	}
}

func TestDiffMarksChangedPixelsInDiffPanel(t *testing.T) {
	res, err := newTestDiffer().Diff(solid(100, 100, color.White), withBlock(100, 100, 60, 40))
	if err != nil {
		t.Fatalf("Diff() = %v", err)
	}
	// The diff panel starts at x=100 in the triage image.
	if c := res.Triage.RGBAAt(100+70, 50); c != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("changed pixel in diff panel = %v, want red", c)
	}
	if c := res.Triage.RGBAAt(100+10, 10); c.R != c.G || c.A != 255 {
		t.Errorf("unchanged pixel in diff panel = %v, want opaque gray", c)
	}
}

func TestDiffCountsEveryChangedPixel(t *testing.T) {
	d := newTestDiffer()
	res, err := d.Diff(solid(10, 10, color.Black), solid(10, 10, color.White))
	if err != nil {
		t.Fatalf("Diff() = %v", err)
	}
	if res.DiffPixels != 100 {
		t.Errorf("DiffPixels = %d, want 100", res.DiffPixels)
	}
	rec := res.Record(3, "3.png")
	if rec.Identical {
		t.Error("Identical = true for black vs white")
	}
	if rec.DiffPercentage != 100 {
		t.Errorf("DiffPercentage = %v, want 100", rec.DiffPercentage)
	}
	if rec.PageIndex != 3 || rec.DiffImageFile != "3.png" {
		t.Errorf("Record() = %+v", rec)
	}
}

func TestDiffSizeMismatchPads(t *testing.T) {
	d := newTestDiffer()
	res, err := d.Diff(solid(100, 100, color.Black), solid(120, 100, color.Black))
	if err != nil {
		t.Fatalf("Diff() = %v, size mismatch must not fail", err)
	}
	if res.Size != (models.Size{Width: 120, Height: 100}) {
		t.Errorf("Size = %v, want 120x100", res.Size)
	}
	// the 20 padded columns are transparent on one side and black on the other
	if res.DiffPixels != 2000 {
		t.Errorf("DiffPixels = %d, want 2000", res.DiffPixels)
	}
	if rec := res.Record(0, "0.png"); rec.Identical {
		t.Error("Identical = true for differing padded region")
	}
	if got := res.Triage.Bounds(); got != image.Rect(0, 0, 360, 100) {
		t.Errorf("triage bounds = %v, want 360x100", got)
	}
}

func TestDiffIsDeterministic(t *testing.T) {
	d := newTestDiffer()
	a := solid(32, 32, color.White)
	b := solid(32, 32, color.White)
	for y := 4; y < 20; y++ {
		for x := 6; x < 9; x++ {
			b.Set(x, y, color.Black)
		}
	}

	first, err := d.Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := d.Diff(a, b)
		if err != nil {
			t.Fatal(err)
		}
		if again.DiffPixels != first.DiffPixels {
			t.Fatalf("run %d: DiffPixels = %d, want %d", i, again.DiffPixels, first.DiffPixels)
		}
		if again.Record(0, "0.png").DiffPercentage != first.Record(0, "0.png").DiffPercentage {
			t.Fatalf("run %d: DiffPercentage changed", i)
		}
	}
	if first.DiffPixels == 0 {
		t.Error("DiffPixels = 0 for a page with a drawn bar")
	}
}

func TestRecordEmptyImage(t *testing.T) {
	rec := Result{}.Record(0, "0.png")
	if rec.DiffPercentage != 0 || rec.TotalPixelCount != 0 || !rec.Identical {
		t.Errorf("Record() = %+v", rec)
	}
}

func TestCompareWritesTriageImage(t *testing.T) {
	dir := t.TempDir()
	expected := filepath.Join(dir, "expected.png")
	actual := filepath.Join(dir, "actual.png")
	out := filepath.Join(dir, "0.png")
	if err := raster.Save(expected, solid(6, 4, color.White)); err != nil {
		t.Fatal(err)
	}
	if err := raster.Save(actual, solid(6, 4, color.Black)); err != nil {
		t.Fatal(err)
	}

	rec, err := newTestDiffer().Compare(0, expected, actual, out, "0.png")
	if err != nil {
		t.Fatalf("Compare() = %v", err)
	}
	if rec.DiffPixelCount != 24 {
		t.Errorf("DiffPixelCount = %d, want 24", rec.DiffPixelCount)
	}
	size, err := raster.DecodeSize(out)
	if err != nil {
		t.Fatalf("triage image not written: %v", err)
	}
	if size != (models.Size{Width: 18, Height: 4}) {
		t.Errorf("triage size = %v, want 18x4", size)
	}
}
