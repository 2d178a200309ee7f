// Package imaging holds the request-local image representations: decoded
// RGBA frames, planar float buffers for the network, and the encode path.
// Nothing in this package ever touches durable storage.
package imaging

import (
	"bytes"
	"fmt"
	"image"

	// Register the standard decoders.
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Decode turns an uploaded payload into an RGBA frame. Any registered
// container (png, jpeg, webp) is accepted; single-channel input is
// broadcast to three channels by the RGBA conversion.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return ToRGBA(img), nil
}

// ToRGBA converts any image.Image to *image.RGBA with a zero origin.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == image.Pt(0, 0) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Resize scales img to width x height with Catmull-Rom resampling.
func Resize(img *image.RGBA, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// FitWithin downscales img proportionally so its longer side does not
// exceed maxSide. Images already within the bound are returned unchanged.
func FitWithin(img *image.RGBA, maxSide int) (*image.RGBA, error) {
	if maxSide <= 0 {
		return img, nil
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if longer <= maxSide {
		return img, nil
	}
	ratio := float64(maxSide) / float64(longer)
	nw, nh := int(float64(w)*ratio), int(float64(h)*ratio)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return Resize(img, nw, nh)
}
