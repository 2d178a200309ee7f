package imaging

import (
	"image"
	"image/color"
)

// Plane is a planar, channel-major float32 pixel buffer in [0,1], the
// layout the network consumes. Planes exist only for the duration of one
// request.
type Plane struct {
	C, H, W int
	Data    []float32 // len C*H*W, row-major within each channel
}

// NewPlane allocates a zeroed plane.
func NewPlane(c, h, w int) *Plane {
	return &Plane{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

// At returns the value of channel c at (x, y).
func (p *Plane) At(c, y, x int) float32 {
	return p.Data[(c*p.H+y)*p.W+x]
}

// Set stores v in channel c at (x, y).
func (p *Plane) Set(c, y, x int, v float32) {
	p.Data[(c*p.H+y)*p.W+x] = v
}

// Release drops the backing buffer so it is immediately eligible for
// reclamation even while the Plane value itself is still referenced.
func (p *Plane) Release() {
	if p != nil {
		p.Data = nil
	}
}

// ToPlane converts an RGBA frame into a 3-channel plane in the channel
// ordering expected by the network. The alpha channel is discarded.
func ToPlane(img *image.RGBA) *Plane {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	p := NewPlane(3, h, w)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			p.Set(0, y, x, float32(row[x*4+0])/255)
			p.Set(1, y, x, float32(row[x*4+1])/255)
			p.Set(2, y, x, float32(row[x*4+2])/255)
		}
	}
	return p
}

// FromPlane converts a 3-channel plane back to display ordering, clamping
// to the displayable range.
func FromPlane(p *Plane) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.W, p.H))
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: clamp8(p.At(0, y, x)),
				G: clamp8(p.At(1, y, x)),
				B: clamp8(p.At(2, y, x)),
				A: 255,
			})
		}
	}
	return img
}

func clamp8(v float32) uint8 {
	s := v*255 + 0.5
	if s <= 0 {
		return 0
	}
	if s >= 255 {
		return 255
	}
	return uint8(s)
}

// ReplicatePad returns a copy of p grown by pad pixels on every side,
// filling the border by edge replication. pad==0 returns a plain copy.
func ReplicatePad(p *Plane, pad int) *Plane {
	if pad < 0 {
		pad = 0
	}
	out := NewPlane(p.C, p.H+2*pad, p.W+2*pad)
	for c := 0; c < p.C; c++ {
		for y := 0; y < out.H; y++ {
			sy := clampIndex(y-pad, p.H)
			for x := 0; x < out.W; x++ {
				sx := clampIndex(x-pad, p.W)
				out.Set(c, y, x, p.At(c, sy, sx))
			}
		}
	}
	return out
}

// Crop returns the sub-plane [x0,x1) x [y0,y1) as a copy.
func (p *Plane) Crop(x0, y0, x1, y1 int) *Plane {
	out := NewPlane(p.C, y1-y0, x1-x0)
	for c := 0; c < p.C; c++ {
		for y := y0; y < y1; y++ {
			srcOff := (c*p.H+y)*p.W + x0
			dstOff := (c*out.H+(y-y0))*out.W
			copy(out.Data[dstOff:dstOff+out.W], p.Data[srcOff:srcOff+(x1-x0)])
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
