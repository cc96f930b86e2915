// Package imaging decodes receipt bytes and derives the small grayscale and
// color buffers the forensic analyzers and hash families work on.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// ErrEmptyImage is returned for zero-length input or zero-area images
var ErrEmptyImage = errors.New("empty image")

// Decode decodes any registered format and returns the image with its format name
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, format, ErrEmptyImage
	}
	return img, format, nil
}

// ToRGB flattens img onto an opaque RGBA canvas. Transparent pixels are
// composited over white, the way a viewer shows a PNG screenshot.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// Resize scales img to w x h with the given interpolator
func Resize(img image.Image, w, h int, interp draw.Interpolator) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Gray is a row-major luminance matrix in the 0..255 range
type Gray struct {
	W, H int
	Pix  []float64
}

// At returns the luminance at (x, y)
func (g *Gray) At(x, y int) float64 {
	return g.Pix[y*g.W+x]
}

// GrayMatrix resizes img to w x h and converts it to ITU-R 601 luminance
func GrayMatrix(img image.Image, w, h int) *Gray {
	small := Resize(ToRGB(img), w, h, draw.BiLinear)
	g := &Gray{W: w, H: h, Pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := small.PixOffset(x, y)
			r := float64(small.Pix[off])
			gr := float64(small.Pix[off+1])
			bl := float64(small.Pix[off+2])
			g.Pix[y*w+x] = 0.299*r + 0.587*gr + 0.114*bl
		}
	}
	return g
}
