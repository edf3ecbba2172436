// Package render turns rasters into terminal-ready cell content.
//
// The actual pixel-to-escape-sequence encoding is behind the Encoder
// interface; one backend is selected at startup. HalfBlockEncoder is the
// built-in backend, emitting truecolor half-block cells that work on any
// modern terminal.
package render

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/okaneo/gridview"
)

// CellSize is a render target in terminal cells.
type CellSize struct {
	Cols int
	Rows int
}

// Encoder encodes a raster into renderable bytes for one grid cell.
type Encoder interface {
	Encode(img image.Image, size CellSize, style string) ([]byte, error)
}

// HalfBlockEncoder renders two pixel rows per terminal row using the upper
// half block with truecolor foreground and background.
type HalfBlockEncoder struct{}

func (HalfBlockEncoder) Encode(img image.Image, size CellSize, style string) ([]byte, error) {
	if size.Cols < 1 || size.Rows < 1 {
		return nil, fmt.Errorf("%w: empty cell %dx%d", gridview.ErrRenderFailed, size.Cols, size.Rows)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: nil raster", gridview.ErrRenderFailed)
	}

	// One terminal cell is one pixel wide and two pixels tall here.
	maxW, maxH := size.Cols, size.Rows*2
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty raster", gridview.ErrRenderFailed)
	}
	w, h := fitBox(b.Dx(), b.Dy(), maxW, maxH)
	nrgba := imaging.Resize(img, w, h, imaging.Box)

	var sb strings.Builder
	for y := 0; y < h; y += 2 {
		for x := 0; x < w; x++ {
			top := nrgba.NRGBAAt(x, y)
			bottom := top
			if y+1 < h {
				bottom = nrgba.NRGBAAt(x, y+1)
			}
			fmt.Fprintf(&sb, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀",
				top.R, top.G, top.B, bottom.R, bottom.G, bottom.B)
		}
		sb.WriteString("\x1b[0m\n")
	}
	return []byte(sb.String()), nil
}

// fitBox scales (w, h) to fit (maxW, maxH) preserving aspect ratio.
// Unlike thumbnail generation, cells upscale small images to fill the slot.
func fitBox(w, h, maxW, maxH int) (int, int) {
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	outW := int(float64(w)*scale + 0.5)
	outH := int(float64(h)*scale + 0.5)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}

// Caption truncates an entry name to the cell width, aware of wide runes.
func Caption(name string, width int) string {
	if width < 1 {
		return ""
	}
	return runewidth.Truncate(name, width, "…")
}
