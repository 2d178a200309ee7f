package engine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"upscaled/internal/imaging"
)

func checkerPlane(c, h, w int) *imaging.Plane {
	p := imaging.NewPlane(c, h, w)
	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p.Set(ch, y, x, float32((ch*31+y*7+x*13)%97)/96)
			}
		}
	}
	return p
}

func TestEnhanceTiledMatchesWholeImage(t *testing.T) {
	src := checkerPlane(3, 37, 29)

	whole := NewMock()
	whole.TileBudget = TileBudget{TileSize: 0, TilePad: 0, PrePad: 4}
	wantOut, err := Enhance(context.Background(), whole, src, 0)
	if err != nil {
		t.Fatalf("whole-image enhance: %v", err)
	}

	tiled := NewMock()
	tiled.TileBudget = TileBudget{TileSize: 16, TilePad: 3, PrePad: 4}
	gotOut, err := Enhance(context.Background(), tiled, src, 0)
	if err != nil {
		t.Fatalf("tiled enhance: %v", err)
	}

	if diff := cmp.Diff(wantOut.Data, gotOut.Data); diff != "" {
		t.Fatalf("tiled output differs from whole-image output (-whole +tiled):\n%s", diff)
	}
	if tiled.CallCount < 2 {
		t.Fatalf("tiled run made %d engine calls, expected several", tiled.CallCount)
	}
	if whole.CallCount != 1 {
		t.Fatalf("whole-image run made %d engine calls", whole.CallCount)
	}
}

func TestEnhanceOutputDimensions(t *testing.T) {
	eng := NewMock()
	eng.TileBudget = TileBudget{TileSize: 32, TilePad: 4, PrePad: 2}

	src := checkerPlane(3, 50, 70)
	out, err := Enhance(context.Background(), eng, src, 0)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if out.H != 200 || out.W != 280 {
		t.Fatalf("output %dx%d, want 280x200", out.W, out.H)
	}
}

func TestEnhanceTinyImage(t *testing.T) {
	// Smaller than tile size, overlap and pre-pad combined.
	eng := NewMock()
	eng.TileBudget = TileBudget{TileSize: 512, TilePad: 32, PrePad: 10}

	src := checkerPlane(3, 3, 5)
	out, err := Enhance(context.Background(), eng, src, 0)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if out.H != 12 || out.W != 20 {
		t.Fatalf("output %dx%d, want 20x12", out.W, out.H)
	}
}

func TestEnhanceResamplesNonNativeFactor(t *testing.T) {
	eng := NewMock()
	eng.TileBudget = TileBudget{TileSize: 0, PrePad: 0}

	src := checkerPlane(3, 10, 10)
	out, err := Enhance(context.Background(), eng, src, 2)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if out.H != 20 || out.W != 20 {
		t.Fatalf("outscale 2 produced %dx%d", out.W, out.H)
	}
}

func TestEnhanceCancelledContext(t *testing.T) {
	eng := NewMock()
	eng.TileBudget = TileBudget{TileSize: 8, TilePad: 2, PrePad: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Enhance(ctx, eng, checkerPlane(3, 40, 40), 0); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestEnhancePropagatesEngineError(t *testing.T) {
	eng := NewMock()
	eng.TileBudget = TileBudget{TileSize: 8, TilePad: 2, PrePad: 0}
	eng.SetError("failed to allocate device buffer")

	if _, err := Enhance(context.Background(), eng, checkerPlane(3, 20, 20), 0); err == nil {
		t.Fatalf("expected engine error")
	}
}

func TestEnhanceRejectsEmptyInput(t *testing.T) {
	if _, err := Enhance(context.Background(), NewMock(), nil, 0); err == nil {
		t.Fatalf("expected error for nil plane")
	}
	if _, err := Enhance(context.Background(), NewMock(), &imaging.Plane{}, 0); err == nil {
		t.Fatalf("expected error for empty plane")
	}
}
