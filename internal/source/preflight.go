package source

import (
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Inspector reports a PDF's page count independently of either renderer.
type Inspector interface {
	PageCount(path string) (int, error)
}

// PDFCPUInspector reads page counts with pdfcpu.
type PDFCPUInspector struct{}

// PageCount validates the file in relaxed mode, then counts its pages.
func (PDFCPUInspector) PageCount(path string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, err
	}
	return api.PageCountFile(path)
}
