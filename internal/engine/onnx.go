package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/x448/float16"
	ort "github.com/yalue/onnxruntime_go"

	"upscaled/internal/device"
	"upscaled/internal/imaging"
	"upscaled/internal/registry"
)

// The exported artifacts use fixed graph I/O names with dynamic
// batch/height/width axes.
const (
	graphInputName  = "input"
	graphOutputName = "output"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureRuntime initializes the shared ONNX runtime environment once per
// process. The shared library location can be overridden with
// UPSCALED_ORT_LIB for hosts where it is not on the default search path.
func ensureRuntime() error {
	ortOnce.Do(func() {
		if lib := os.Getenv("UPSCALED_ORT_LIB"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// onnxEngine is a device-bound session for one model. A single session is
// shared across requests; Run serializes on it.
type onnxEngine struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	half    bool
	scale   int
	budget  TileBudget
}

// NewONNX builds an engine from a resolved weight file, bound to the given
// device profile and tile budget.
func NewONNX(cfg registry.ModelConfig, weightPath string, prof device.Profile, budget TileBudget) (Engine, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if prof.Kind == device.KindCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("cuda provider: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": "0"}); err != nil {
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		weightPath,
		[]string{graphInputName},
		[]string{graphOutputName},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", cfg.ID, err)
	}

	return &onnxEngine{
		session: session,
		half:    prof.Kind == device.KindCUDA && prof.HalfPrecision,
		scale:   cfg.Scale(),
		budget:  budget,
	}, nil
}

func (e *onnxEngine) Scale() int         { return e.scale }
func (e *onnxEngine) Budget() TileBudget { return e.budget }

// Run executes the network on one plane. Tensors are destroyed before
// returning on every path so per-call device allocations never outlive the
// call.
func (e *onnxEngine) Run(ctx context.Context, in *imaging.Plane) (*imaging.Plane, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("engine is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outH, outW := in.H*e.scale, in.W*e.scale
	if e.half {
		return e.runHalf(in, outH, outW)
	}
	return e.runFull(in, outH, outW)
}

func (e *onnxEngine) runFull(in *imaging.Plane, outH, outW int) (*imaging.Plane, error) {
	inShape := ort.NewShape(1, int64(in.C), int64(in.H), int64(in.W))
	inputTensor, err := ort.NewTensor(inShape, in.Data)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outShape := ort.NewShape(1, int64(in.C), int64(outH), int64(outW))
	outputTensor, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	out := imaging.NewPlane(in.C, outH, outW)
	copy(out.Data, outputTensor.GetData())
	return out, nil
}

// runHalf converts tensor I/O to fp16 for reduced-precision profiles.
func (e *onnxEngine) runHalf(in *imaging.Plane, outH, outW int) (*imaging.Plane, error) {
	inShape := ort.NewShape(1, int64(in.C), int64(in.H), int64(in.W))
	inputTensor, err := ort.NewCustomDataTensor(inShape, float32sToHalfBytes(in.Data), ort.TensorElementDataTypeFloat16)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outShape := ort.NewShape(1, int64(in.C), int64(outH), int64(outW))
	outBytes := make([]byte, in.C*outH*outW*2)
	outputTensor, err := ort.NewCustomDataTensor(outShape, outBytes, ort.TensorElementDataTypeFloat16)
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	out := imaging.NewPlane(in.C, outH, outW)
	halfBytesToFloat32s(outBytes, out.Data)
	return out, nil
}

func (e *onnxEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func float32sToHalfBytes(src []float32) []byte {
	out := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
	}
	return out
}

func halfBytesToFloat32s(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = float16.Frombits(binary.LittleEndian.Uint16(src[i*2:])).Float32()
	}
}
