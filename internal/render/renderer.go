// Package render adapts PDF renderers to a common contract: render every
// page of a document into <dir>/0.png, 1.png, ... and describe the result.
package render

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/renderparity/internal/models"
	"github.com/Lllllllleong/renderparity/internal/source"
)

// Renderer is one rendering backend.
//
// Render writes pages in strictly increasing page order with no gaps and
// reports the dimensions of the files as written. targets, when non-nil,
// are the sizes pages must be resampled to; backends that define the
// target sizes themselves ignore it.
type Renderer interface {
	Backend() models.Backend
	// Identity names the backend and its version. It is part of the stage
	// fingerprint, so changing it invalidates earlier renders.
	Identity() string
	Render(ctx context.Context, doc source.Document, dpi int, targets []models.Size, dir string) (*models.RenderManifest, error)
}

// PageFileName is the canonical name of page index within a stage directory.
func PageFileName(index int) string {
	return fmt.Sprintf("%d.png", index)
}
