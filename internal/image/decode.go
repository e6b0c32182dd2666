// Package image decodes and downsizes the images shown on the canvas.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
)

// ErrUnsupported is returned for payloads no registered decoder accepts.
var ErrUnsupported = errors.New("image: unknown or unsupported format")

// Decode decodes an image payload. WebP is tried first when the content
// type says so, and as a fallback otherwise.
func Decode(data []byte, contentType string) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrUnsupported
	}
	if isWebP(contentType) {
		if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
			return img, nil
		}
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, ErrUnsupported
}

func isWebP(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/webp")
}

// Load opens an image file, applying EXIF orientation.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		f, ferr := os.Open(path)
		if ferr == nil {
			defer f.Close()
			if w, derr := webp.Decode(f); derr == nil {
				return w, nil
			}
		}
	}
	return nil, fmt.Errorf("failed to open image %s: %w", path, err)
}

// Fit downsizes img so neither side exceeds maxDim, keeping the aspect
// ratio. Smaller images and maxDim <= 0 return img unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// Size returns the pixel size of img.
func Size(img image.Image) (width, height int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
