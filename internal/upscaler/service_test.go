package upscaler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"upscaled/internal/device"
	"upscaled/internal/engine"
	"upscaled/internal/imaging"
	"upscaled/internal/registry"
)

func pngPayload(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

// testService builds a Service on a fixed serial device with a mock engine
// behind the cache. The returned engine is shared by all builds.
func testService(t *testing.T, cfg ServiceConfig) (*Service, *engine.MockEngine) {
	t.Helper()
	mock := engine.NewMock()
	mock.TileBudget = engine.TileBudget{TileSize: 64, TilePad: 8, PrePad: 4}
	var builds int32
	build := func(mc registry.ModelConfig, weightPath string, prof device.Profile, budget engine.TileBudget) (engine.Engine, error) {
		atomic.AddInt32(&builds, 1)
		return mock, nil
	}
	cache := NewCache(device.Fixed{Profile: device.Profile{Kind: device.KindCPU}}, &fakeResolver{}, build, mock.TileBudget, zerolog.Nop())
	t.Cleanup(func() { cache.Close() })
	return NewService(cache, cfg, zerolog.Nop()), mock
}

func TestProcessRequiresImage(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{})
	_, err := svc.Process(context.Background(), nil, "", "png")
	if !IsInvalidInput(err) {
		t.Fatalf("expected invalid-input, got %v", err)
	}
}

func TestProcessRejectsUndecodablePayload(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{})
	_, err := svc.Process(context.Background(), []byte("definitely not pixels"), "", "png")
	if !IsInvalidInput(err) {
		t.Fatalf("expected invalid-input, got %v", err)
	}
}

func TestProcessUnknownModel(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{})
	_, err := svc.Process(context.Background(), pngPayload(t, 8, 8), "SRCNN_x2", "png")
	if !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestProcessUpscalesFourTimes(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{})
	res, err := svc.Process(context.Background(), pngPayload(t, 100, 60), "", "png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.ContentType != "image/png" {
		t.Fatalf("content type %q", res.ContentType)
	}
	out, err := png.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Bounds().Dx() != 400 || out.Bounds().Dy() != 240 {
		t.Fatalf("output %dx%d, want 400x240", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestProcessDownscalesOversizedInputFirst(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{MaxResolution: 256})
	res, err := svc.Process(context.Background(), pngPayload(t, 500, 375), "", "png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	out, err := png.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// 500x375 clamps to 256x192 before the 4x pass.
	if out.Bounds().Dx() != 1024 || out.Bounds().Dy() != 768 {
		t.Fatalf("output %dx%d, want 1024x768", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestProcessFormatSelection(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{})
	payload := pngPayload(t, 16, 16)

	cases := []struct {
		format      string
		contentType string
		magic       []byte
	}{
		{"png", "image/png", []byte{0x89, 'P', 'N', 'G'}},
		{"jpeg", "image/jpeg", []byte{0xFF, 0xD8}},
		{"webp", "image/webp", []byte("RIFF")},
		{"", "image/png", []byte{0x89, 'P', 'N', 'G'}},
		{"gif", "image/png", []byte{0x89, 'P', 'N', 'G'}},
	}
	for _, c := range cases {
		res, err := svc.Process(context.Background(), payload, "", c.format)
		if err != nil {
			t.Fatalf("format %q: %v", c.format, err)
		}
		if res.ContentType != c.contentType {
			t.Fatalf("format %q: content type %q", c.format, res.ContentType)
		}
		if !bytes.HasPrefix(res.Data, c.magic) {
			t.Fatalf("format %q: wrong magic bytes", c.format)
		}
	}
}

func TestProcessEngineFailureIsOpaque(t *testing.T) {
	svc, mock := testService(t, ServiceConfig{})
	mock.SetError("RRDB block 17 produced NaN at layer conv_up2")

	_, err := svc.Process(context.Background(), pngPayload(t, 16, 16), "", "png")
	if !IsProcessingFailed(err) {
		t.Fatalf("expected opaque processing error, got %v", err)
	}
	if bytes.Contains([]byte(err.Error()), []byte("conv_up2")) {
		t.Fatalf("internal detail leaked to caller: %v", err)
	}

	// The cached engine keeps serving once the failure clears.
	mock.ClearError()
	if _, err := svc.Process(context.Background(), pngPayload(t, 16, 16), "", "png"); err != nil {
		t.Fatalf("engine did not recover after the failure cleared: %v", err)
	}
}

func TestProcessDeviceExhaustionMapped(t *testing.T) {
	svc, mock := testService(t, ServiceConfig{})
	mock.SetError("CUDA error: failed to allocate 1024MB on device 0")

	_, err := svc.Process(context.Background(), pngPayload(t, 16, 16), "", "png")
	if !IsDeviceExhausted(err) {
		t.Fatalf("expected device-exhausted, got %v", err)
	}
}

func TestProcessTimeout(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{Timeout: time.Nanosecond})
	_, err := svc.Process(context.Background(), pngPayload(t, 64, 64), "", "png")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestProcessCallerCancellationPassesThrough(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Process(ctx, pngPayload(t, 64, 64), "", "png")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("caller abort must surface as cancellation, got %v", err)
	}
	if IsTimeout(err) {
		t.Fatalf("caller abort must not surface as timeout")
	}
}

func TestProcessSharedFetchCancellationIsOpaque(t *testing.T) {
	// A request sharing a weight fetch can inherit the leader's
	// cancellation wrapped inside the fetch error while its own context is
	// still live. The internal text, URL included, must not reach the
	// caller.
	resolver := &fakeResolver{err: fmt.Errorf(
		"weights unavailable: RealESRGAN_x4plus: Get %q: %w",
		"https://weights.internal/RealESRGAN_x4plus.onnx", context.Canceled)}
	var builds int32
	cache := NewCache(device.Fixed{Profile: device.Profile{Kind: device.KindCPU}}, resolver, mockBuild(&builds), engine.DefaultBudget, zerolog.Nop())
	t.Cleanup(func() { cache.Close() })
	svc := NewService(cache, ServiceConfig{}, zerolog.Nop())

	_, err := svc.Process(context.Background(), pngPayload(t, 8, 8), "", "png")
	if !IsProcessingFailed(err) {
		t.Fatalf("expected opaque processing error, got %v", err)
	}
	if strings.Contains(err.Error(), "weights.internal") {
		t.Fatalf("internal fetch detail leaked to caller: %v", err)
	}
}

func TestListModelsAndStatus(t *testing.T) {
	svc, _ := testService(t, ServiceConfig{})
	if got := len(svc.ListModels()); got != 3 {
		t.Fatalf("model count %d", got)
	}
	if !svc.Ready() {
		t.Fatalf("constructed service must be ready")
	}
	if _, err := svc.Process(context.Background(), pngPayload(t, 8, 8), "RealESRGAN_x4plus_anime_6B", "png"); err != nil {
		t.Fatalf("process: %v", err)
	}
	st := svc.Status()
	if len(st.Engines) != 1 || st.Engines[0].ModelID != "RealESRGAN_x4plus_anime_6B" {
		t.Fatalf("status engines %+v", st.Engines)
	}
	if st.Engines[0].Requests < 1 {
		t.Fatalf("request counter not advanced")
	}
}

func TestScratchReleaseDropsBuffers(t *testing.T) {
	sc := &scratch{}
	a := imaging.NewPlane(3, 4, 4)
	b := imaging.NewPlane(3, 8, 8)
	sc.add(a)
	sc.add(b)
	sc.release()
	if a.Data != nil || b.Data != nil {
		t.Fatalf("release left buffers attached")
	}
	if sc.planes != nil {
		t.Fatalf("release kept plane references")
	}
}

// recordingEngine keeps every plane it returned so tests can observe that
// the request released them.
type recordingEngine struct {
	*engine.MockEngine
	mu   sync.Mutex
	outs []*imaging.Plane
}

func (r *recordingEngine) Run(ctx context.Context, in *imaging.Plane) (*imaging.Plane, error) {
	out, err := r.MockEngine.Run(ctx, in)
	if out != nil {
		r.mu.Lock()
		r.outs = append(r.outs, out)
		r.mu.Unlock()
	}
	return out, err
}

func TestProcessReleasesResultBuffers(t *testing.T) {
	rec := &recordingEngine{MockEngine: engine.NewMock()}
	rec.TileBudget = engine.TileBudget{}
	build := func(mc registry.ModelConfig, weightPath string, prof device.Profile, budget engine.TileBudget) (engine.Engine, error) {
		return rec, nil
	}
	cache := NewCache(device.Fixed{Profile: device.Profile{Kind: device.KindCPU}}, &fakeResolver{}, build, rec.TileBudget, zerolog.Nop())
	t.Cleanup(func() { cache.Close() })
	svc := NewService(cache, ServiceConfig{}, zerolog.Nop())

	res, err := svc.Process(context.Background(), pngPayload(t, 12, 12), "", "png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Data) == 0 {
		t.Fatalf("no encoded output")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.outs) != 1 {
		t.Fatalf("expected 1 whole-image run, got %d", len(rec.outs))
	}
	if rec.outs[0].Data != nil {
		t.Fatalf("inference output buffer survived the request")
	}
}

func TestProcessFailureStillPurges(t *testing.T) {
	svc, mock := testService(t, ServiceConfig{})
	mock.SetError("mid-inference failure")

	before := testutil.ToFloat64(purgeRuns)
	_, err := svc.Process(context.Background(), pngPayload(t, 16, 16), "", "png")
	if !IsProcessingFailed(err) {
		t.Fatalf("expected opaque processing error, got %v", err)
	}
	if got := testutil.ToFloat64(purgeRuns); got != before+1 {
		t.Fatalf("purge pass did not run on the failure path: before=%v after=%v", before, got)
	}
}
