// Package diff compares page rasters with a perceptual, anti-aliasing
// tolerant pixel match and writes a triage image for every page pair.
package diff

import (
	"fmt"
	"image"
	"log/slog"
	"strconv"

	"github.com/orisano/pixelmatch"

	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/raster"
)

// DefaultThreshold is the matching threshold on pixelmatch's 0-1 scale.
const DefaultThreshold = 0.1

// Differ compares an expected page image against an actual one.
type Differ struct {
	Threshold float64
	Logger    *slog.Logger
}

// New returns a Differ using DefaultThreshold.
func New(logger *slog.Logger) *Differ {
	return &Differ{Threshold: DefaultThreshold, Logger: logger}
}

// Identity is folded into the diff stage fingerprint.
func (d *Differ) Identity() string {
	return "pixelmatch threshold=" + strconv.FormatFloat(d.Threshold, 'f', -1, 64)
}

// Result is the outcome of comparing two images in memory.
type Result struct {
	DiffPixels int
	Size       models.Size
	// Triage is [expected | diff | actual], all padded to Size.
	Triage *image.RGBA
}

// Record converts r into the manifest entry for page index.
func (r Result) Record(index int, diffImageFile string) models.PageDiffRecord {
	total := r.Size.Width * r.Size.Height
	pct := 0.0
	if total > 0 {
		pct = float64(r.DiffPixels) / float64(total) * 100
	}
	return models.PageDiffRecord{
		PageIndex:       index,
		DiffPixelCount:  r.DiffPixels,
		TotalPixelCount: total,
		DiffPercentage:  pct,
		Identical:       r.DiffPixels == 0,
		ImageSize:       r.Size,
		DiffImageFile:   diffImageFile,
	}
}

// rgbaView hides the concrete *image.RGBA from pixelmatch. Its equality
// shortcut for *image.RGBA compares only the first quarter of each row, so
// every pair goes through the full per-pixel comparison, which also always
// fills the diff image.
type rgbaView struct{ *image.RGBA }

// Diff compares expected with actual. Images of different sizes are padded
// to the larger extent in each dimension instead of failing.
func (d *Differ) Diff(expected, actual image.Image) (Result, error) {
	exp := raster.ToRGBA(expected)
	act := raster.ToRGBA(actual)

	es, as := raster.SizeOf(exp), raster.SizeOf(act)
	size := models.Size{Width: max(es.Width, as.Width), Height: max(es.Height, as.Height)}
	if es != as {
		d.Logger.Warn("Size mismatch. Padding both images for comparison.",
			"expected", es.String(), "actual", as.String(), "padded", size.String())
		exp = raster.Pad(exp, size)
		act = raster.Pad(act, size)
	}

	var out image.Image
	n, err := pixelmatch.MatchPixel(rgbaView{exp}, rgbaView{act}, pixelmatch.Threshold(d.Threshold), pixelmatch.WriteTo(&out))
	if err != nil {
		return Result{}, fmt.Errorf("pixelmatch: %w", err)
	}

	return Result{
		DiffPixels: n,
		Size:       size,
		Triage:     raster.HConcat(exp, out, act),
	}, nil
}

// Compare loads both page files, diffs them and writes the triage image to
// outPath. The returned record names outPath by diffImageFile.
func (d *Differ) Compare(index int, expectedPath, actualPath, outPath, diffImageFile string) (models.PageDiffRecord, error) {
	expected, err := raster.Load(expectedPath)
	if err != nil {
		return models.PageDiffRecord{}, err
	}
	actual, err := raster.Load(actualPath)
	if err != nil {
		return models.PageDiffRecord{}, err
	}

	res, err := d.Diff(expected, actual)
	if err != nil {
		return models.PageDiffRecord{}, err
	}
	if err := raster.Save(outPath, res.Triage); err != nil {
		return models.PageDiffRecord{}, fmt.Errorf("failed to write triage image: %w", err)
	}
	return res.Record(index, diffImageFile), nil
}
