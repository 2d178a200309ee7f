// Package engine wraps the inference runtime behind a small interface and
// implements the bounded-memory tiled dispatch on top of it.
package engine

import (
	"context"

	"upscaled/internal/imaging"
)

// TileBudget bounds peak memory per inference call. The values are fixed
// per engine and sized for the most constrained supported accelerator
// (a 16 GB-class device).
type TileBudget struct {
	// TileSize is the edge length of one tile. 0 disables tiling and runs
	// the whole padded image in a single pass.
	TileSize int
	// TilePad is the overlap added on each internal tile edge so the
	// reassembled output is seamless.
	TilePad int
	// PrePad is the edge-replication border around the whole image that
	// suppresses artifacts at the outer boundary.
	PrePad int
}

// DefaultBudget matches the served deployment: 512px tiles, generous
// overlap, small outer border.
var DefaultBudget = TileBudget{TileSize: 512, TilePad: 32, PrePad: 10}

// Engine runs the super-resolution network on one planar buffer. An
// Engine is device-bound and owned exclusively by the model cache; request
// code only borrows it for the duration of a single call.
type Engine interface {
	// Run executes the network on a 3xHxW plane and returns a
	// 3x(H*Scale)x(W*Scale) plane. Results are independent of call order.
	Run(ctx context.Context, in *imaging.Plane) (*imaging.Plane, error)
	// Scale is the fixed upsample factor of the network.
	Scale() int
	// Budget is the tile budget the engine was built with.
	Budget() TileBudget
	// Close releases the underlying session and any device allocations.
	Close() error
}
