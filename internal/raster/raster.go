// Package raster holds the small set of image operations the pipeline
// needs: PNG I/O, RGBA normalisation, padding, resampling and compositing.
package raster

import (
	"fmt"
	"image"
	"image/png"
	"os"

	xdraw "golang.org/x/image/draw"

	"github.com/Lllllllleong/renderparity/internal/models"
)

// Load decodes the PNG file at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// Save encodes img as PNG at path, replacing any existing file.
func Save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// DecodeSize reads only the PNG header of path.
func DecodeSize(path string) (models.Size, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Size{}, err
	}
	defer f.Close()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return models.Size{}, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return models.Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// SizeOf returns the dimensions of img's bounds.
func SizeOf(img image.Image) models.Size {
	b := img.Bounds()
	return models.Size{Width: b.Dx(), Height: b.Dy()}
}

// ToRGBA converts img to an RGBA image whose bounds start at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Pad returns img grown to size, anchored at the origin. New pixels are
// fully transparent. An image already of that size is returned unchanged.
func Pad(img *image.RGBA, size models.Size) *image.RGBA {
	if SizeOf(img) == size {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	xdraw.Draw(dst, img.Bounds(), img, img.Bounds().Min, xdraw.Src)
	return dst
}

// Resize resamples img to exactly size with a Catmull-Rom filter.
func Resize(img image.Image, size models.Size) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// HConcat places images side by side, left to right, on a transparent
// canvas as tall as the tallest of them.
func HConcat(imgs ...image.Image) *image.RGBA {
	width, height := 0, 0
	for _, img := range imgs {
		s := SizeOf(img)
		width += s.Width
		height = max(height, s.Height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	x := 0
	for _, img := range imgs {
		b := img.Bounds()
		r := image.Rect(x, 0, x+b.Dx(), b.Dy())
		xdraw.Draw(dst, r, img, b.Min, xdraw.Src)
		x += b.Dx()
	}
	return dst
}
