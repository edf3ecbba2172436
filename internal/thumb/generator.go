// Package thumb produces downsized rasters from source images.
package thumb

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/okaneo/gridview"
)

// Generator downsizes source images preserving aspect ratio so the longer
// side equals the requested dimension. It is stateless and safe for
// concurrent use; deduplication of identical requests is the store's job.
type Generator struct{}

// Generate decodes the image at path and downsizes it to dim.
func (Generator) Generate(path string, dim int) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", gridview.ErrDecodeFailed, path, err)
	}
	return downsize(img, dim), nil
}

// GenerateBytes decodes in-memory image data, for fetched sources.
func (Generator) GenerateBytes(data []byte, dim int) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gridview.ErrDecodeFailed, err)
	}
	return downsize(img, dim), nil
}

// downsize fits img into a dim x dim box without upscaling.
func downsize(img image.Image, dim int) image.Image {
	b := img.Bounds()
	if b.Dx() <= dim && b.Dy() <= dim {
		return img
	}
	return imaging.Fit(img, dim, dim, imaging.Lanczos)
}
