package engine

import (
	"context"
	"fmt"
	"sync"

	"upscaled/internal/imaging"
)

// MockEngine is an Engine for tests. It upsamples by nearest-neighbour
// replication, which makes tiled and whole-image outputs bit-identical and
// keeps tests independent of the ONNX shared library.
type MockEngine struct {
	mu sync.Mutex

	// ScaleFactor is the fixed upsample factor (default 4).
	ScaleFactor int
	// TileBudget returned by Budget.
	TileBudget TileBudget
	// ShouldError makes Run fail with ErrorMessage.
	ShouldError bool
	// ErrorMessage is the error text returned when ShouldError is set.
	ErrorMessage string

	// CallCount tracks the number of Run calls.
	CallCount int
	// RunSizes records the HxW of every Run input, in call order.
	RunSizes [][2]int
	// Closed reports whether Close was called.
	Closed bool
}

// NewMock creates a MockEngine with scale 4 and the default budget.
func NewMock() *MockEngine {
	return &MockEngine{ScaleFactor: 4, TileBudget: DefaultBudget}
}

func (m *MockEngine) Scale() int {
	if m.ScaleFactor <= 0 {
		return 4
	}
	return m.ScaleFactor
}

func (m *MockEngine) Budget() TileBudget { return m.TileBudget }

func (m *MockEngine) Run(ctx context.Context, in *imaging.Plane) (*imaging.Plane, error) {
	m.mu.Lock()
	m.CallCount++
	m.RunSizes = append(m.RunSizes, [2]int{in.H, in.W})
	fail := m.ShouldError
	msg := m.ErrorMessage
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		if msg == "" {
			msg = "mock engine error"
		}
		return nil, fmt.Errorf("%s", msg)
	}

	scale := m.Scale()
	out := imaging.NewPlane(in.C, in.H*scale, in.W*scale)
	for c := 0; c < in.C; c++ {
		for y := 0; y < out.H; y++ {
			for x := 0; x < out.W; x++ {
				out.Set(c, y, x, in.At(c, y/scale, x/scale))
			}
		}
	}
	return out, nil
}

func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetError configures the mock to fail on subsequent Run calls.
func (m *MockEngine) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears a configured failure.
func (m *MockEngine) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

var _ Engine = (*MockEngine)(nil)
