package engine

import (
	"context"
	"fmt"

	"upscaled/internal/imaging"
)

// Enhance runs the model over a full-resolution plane within the engine's
// tile budget and returns the reassembled upsampled plane. Output
// dimensions are exactly (W*outscale, H*outscale).
//
// The image border is first grown by PrePad with edge replication, then the
// padded frame is either run whole (TileSize == 0) or partitioned into
// TileSize tiles overlapped by TilePad on internal edges. Each tile is
// independent: results do not depend on processing order.
func Enhance(ctx context.Context, eng Engine, src *imaging.Plane, outscale int) (*imaging.Plane, error) {
	if src == nil || len(src.Data) == 0 {
		return nil, fmt.Errorf("empty input plane")
	}
	if outscale <= 0 {
		outscale = eng.Scale()
	}
	budget := eng.Budget()
	scale := eng.Scale()

	padded := imaging.ReplicatePad(src, budget.PrePad)
	defer padded.Release()

	var out *imaging.Plane
	var err error
	if budget.TileSize <= 0 {
		out, err = eng.Run(ctx, padded)
	} else {
		out, err = runTiled(ctx, eng, padded, budget)
	}
	if err != nil {
		return nil, err
	}

	// Discard the pre-pad border from the upsampled frame.
	if budget.PrePad > 0 {
		trim := budget.PrePad * scale
		trimmed := out.Crop(trim, trim, out.W-trim, out.H-trim)
		out.Release()
		out = trimmed
	}
	if out.H != src.H*scale || out.W != src.W*scale {
		out.Release()
		return nil, fmt.Errorf("unexpected output size %dx%d for %dx%d input", out.W, out.H, src.W, src.H)
	}

	// The networks are fixed-factor; other requested factors are met by
	// resampling the native output.
	if outscale != scale {
		resized, err := imaging.Resize(imaging.FromPlane(out), src.W*outscale, src.H*outscale)
		if err != nil {
			out.Release()
			return nil, err
		}
		out.Release()
		out = imaging.ToPlane(resized)
	}
	return out, nil
}

// runTiled partitions the padded plane into overlapping tiles, runs each
// through the engine and stitches the core regions back together. Boundary
// tiles may be smaller than the tile size or even the overlap; the clamps
// below keep their crops in range.
func runTiled(ctx context.Context, eng Engine, p *imaging.Plane, budget TileBudget) (*imaging.Plane, error) {
	scale := eng.Scale()
	tile, overlap := budget.TileSize, budget.TilePad

	out := imaging.NewPlane(p.C, p.H*scale, p.W*scale)
	tilesX := (p.W + tile - 1) / tile
	tilesY := (p.H + tile - 1) / tile

	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			if err := ctx.Err(); err != nil {
				out.Release()
				return nil, err
			}

			// Core region of this tile within the padded frame.
			inStartX := tx * tile
			inEndX := min(inStartX+tile, p.W)
			inStartY := ty * tile
			inEndY := min(inStartY+tile, p.H)

			// Expand by the overlap, clamped at the frame edges.
			padStartX := max(inStartX-overlap, 0)
			padEndX := min(inEndX+overlap, p.W)
			padStartY := max(inStartY-overlap, 0)
			padEndY := min(inEndY+overlap, p.H)

			tileIn := p.Crop(padStartX, padStartY, padEndX, padEndY)
			tileOut, err := eng.Run(ctx, tileIn)
			tileIn.Release()
			if err != nil {
				out.Release()
				return nil, err
			}

			// Copy the upsampled core, dropping the overlap margins.
			localX0 := (inStartX - padStartX) * scale
			localY0 := (inStartY - padStartY) * scale
			coreW := (inEndX - inStartX) * scale
			coreH := (inEndY - inStartY) * scale
			for c := 0; c < out.C; c++ {
				for y := 0; y < coreH; y++ {
					srcOff := (c*tileOut.H+(localY0+y))*tileOut.W + localX0
					dstOff := (c*out.H+(inStartY*scale+y))*out.W + inStartX*scale
					copy(out.Data[dstOff:dstOff+coreW], tileOut.Data[srcOff:srcOff+coreW])
				}
			}
			tileOut.Release()
		}
	}
	return out, nil
}
