package main

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

// ErrDimensionMismatch is returned when a frame does not have the size the
// zone map was built for.
var ErrDimensionMismatch = errors.New("frame dimension mismatch")

// RGB holds an 8-bit color value.
type RGB struct {
	R, G, B uint8
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ZoneColors maps every zone to the color sampled for it.
type ZoneColors map[ZoneID]RGB

// CaptureScreen captures display 0 and returns the image.
func CaptureScreen() (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	bounds := screenshot.GetDisplayBounds(0)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capturing screen: %w", err)
	}
	return img, nil
}

// resizeFrame scales src to w x h. The bilinear kernel widens its support
// when shrinking, so every output pixel is a smoothed average of the area
// it covers rather than a single picked pixel.
func resizeFrame(src image.Image, w, h int) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Dx() == w && rgba.Rect.Dy() == h {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

// Sample reads one color per zone from frame.
func Sample(frame *image.RGBA, zm *ZoneMap) (ZoneColors, error) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	if w != zm.Width || h != zm.Height {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrDimensionMismatch, w, h, zm.Width, zm.Height)
	}

	g := zm.Geometry()
	out := make(ZoneColors, g.Total())
	for s := SideTop; s <= SideLeft; s++ {
		for i, r := range zm.rects[s] {
			out[ZoneID{Side: s, Index: i}] = averageRect(frame, r)
		}
	}
	return out, nil
}

// averageRect computes the mean RGB of the pixels of img inside r.
// r is relative to the image origin.
func averageRect(img *image.RGBA, r image.Rectangle) RGB {
	if r.Empty() {
		return RGB{}
	}
	pix := img.Pix
	stride := img.Stride

	if r.Dx() == 1 && r.Dy() == 1 {
		off := r.Min.Y*stride + r.Min.X*4
		return RGB{R: pix[off], G: pix[off+1], B: pix[off+2]}
	}

	var rSum, gSum, bSum uint64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := y*stride + r.Min.X*4
		for x := r.Min.X; x < r.Max.X; x++ {
			rSum += uint64(pix[off])
			gSum += uint64(pix[off+1])
			bSum += uint64(pix[off+2])
			off += 4
		}
	}
	n := uint64(r.Dx() * r.Dy())
	return RGB{
		R: uint8(rSum / n),
		G: uint8(gSum / n),
		B: uint8(bSum / n),
	}
}

// AverageColor computes the mean RGB of an RGBA image.
func AverageColor(img *image.RGBA) RGB {
	return averageRect(img, image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
}
