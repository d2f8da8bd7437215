package render

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/raster"
	"github.com/Lllllllleong/renderparity/internal/source"
)

const referenceStage = "reference render"

// PageSource is an open document that can rasterize its pages.
type PageSource interface {
	NumPage() int
	// RenderPage rasterizes page index at dpi, where 72 dpi maps one PDF
	// point to one pixel.
	RenderPage(index int, dpi float64) (image.Image, error)
	Close() error
}

// Opener opens the document at path.
type Opener func(path string) (PageSource, error)

// Reference renders in-process through a rendering library. Pages whose
// native size differs from the matching target are resampled to it, so
// both backends produce frames of identical dimensions.
type Reference struct {
	Open   Opener
	Name   string
	Logger *slog.Logger
}

// NewReference returns a Reference backed by MuPDF.
func NewReference(logger *slog.Logger) *Reference {
	return &Reference{Open: OpenFitz, Name: fitzIdentity, Logger: logger}
}

func (r *Reference) Backend() models.Backend { return models.BackendReference }

func (r *Reference) Identity() string { return r.Name }

func (r *Reference) Render(ctx context.Context, doc source.Document, dpi int, targets []models.Size, dir string) (*models.RenderManifest, error) {
	src, err := r.Open(doc.Path)
	if err != nil {
		return nil, &models.StageExecutionError{Stage: referenceStage, Err: fmt.Errorf("failed to open document: %w", err)}
	}
	defer src.Close()

	n := src.NumPage()
	if n < 1 {
		return nil, &models.StageExecutionError{Stage: referenceStage, Err: fmt.Errorf("document has no pages")}
	}

	pages := make([]models.PageRenderRecord, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := src.RenderPage(i, float64(dpi))
		if err != nil {
			return nil, &models.StageExecutionError{Stage: referenceStage, Err: fmt.Errorf("page %d: %w", i, err)}
		}

		if i < len(targets) {
			if native := raster.SizeOf(img); native != targets[i] {
				r.Logger.Debug("Resampling page to candidate size.",
					"document", doc.Name, "page", i, "native", native.String(), "target", targets[i].String())
				img = raster.Resize(img, targets[i])
			}
		}

		name := PageFileName(i)
		if err := raster.Save(filepath.Join(dir, name), img); err != nil {
			return nil, fmt.Errorf("failed to write page %d: %w", i, err)
		}
		size := raster.SizeOf(img)
		pages = append(pages, models.PageRenderRecord{
			PageIndex: i,
			FileName:  name,
			Width:     size.Width,
			Height:    size.Height,
		})
	}
	return models.NewRenderManifest(models.BackendReference, doc.Name, dpi, pages), nil
}
