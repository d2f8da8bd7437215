package render

import (
	"image"

	"github.com/gen2brain/go-fitz"
)

const fitzIdentity = "mupdf (go-fitz)"

// fitzDocument implements PageSource with go-fitz. A document must not be
// shared between goroutines; each Render opens its own.
type fitzDocument struct {
	doc *fitz.Document
}

// OpenFitz opens path with MuPDF.
func OpenFitz(path string) (PageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &fitzDocument{doc: doc}, nil
}

func (f *fitzDocument) NumPage() int { return f.doc.NumPage() }

func (f *fitzDocument) RenderPage(index int, dpi float64) (image.Image, error) {
	img, err := f.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (f *fitzDocument) Close() error { return f.doc.Close() }
