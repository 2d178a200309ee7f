package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// helper: gradient RGBA frame
func gradient(t *testing.T, w, h int) *image.RGBA {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeRoundtrip(t *testing.T) {
	src := gradient(t, 20, 10)
	got, err := Decode(encodePNG(t, src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Bounds().Dx() != 20 || got.Bounds().Dy() != 10 {
		t.Fatalf("bounds=%v", got.Bounds())
	}
	if got.RGBAAt(3, 7) != src.RGBAAt(3, 7) {
		t.Fatalf("pixel mismatch after roundtrip")
	}
}

func TestDecodeGrayscaleBroadcastsToThreeChannels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			gray.SetGray(x, y, color.Gray{Y: uint8(x * 30)})
		}
	}
	got, err := Decode(encodePNG(t, gray))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for x := 0; x < 8; x++ {
		px := got.RGBAAt(x, 4)
		if px.R != px.G || px.G != px.B {
			t.Fatalf("channel broadcast failed at x=%d: %+v", x, px)
		}
	}
}

func TestDecodeRejectsEmptyAndGarbage(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Fatalf("expected error for garbage payload")
	}
}

func TestFitWithinDownscalesOversized(t *testing.T) {
	img := gradient(t, 2000, 1500)
	out, err := FitWithin(img, 1024)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if out.Bounds().Dx() != 1024 || out.Bounds().Dy() != 768 {
		t.Fatalf("expected 1024x768, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestFitWithinKeepsSmallImages(t *testing.T) {
	img := gradient(t, 100, 50)
	out, err := FitWithin(img, 1024)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if out != img {
		t.Fatalf("in-budget image must be returned unchanged")
	}
}

func TestFitWithinPortrait(t *testing.T) {
	img := gradient(t, 300, 2048)
	out, err := FitWithin(img, 1024)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if out.Bounds().Dy() != 1024 {
		t.Fatalf("longest side should be clamped, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
	if out.Bounds().Dx() != 150 {
		t.Fatalf("aspect not preserved: %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestResizeRejectsInvalidSize(t *testing.T) {
	if _, err := Resize(gradient(t, 4, 4), 0, 10); err == nil {
		t.Fatalf("expected error for zero width")
	}
}
