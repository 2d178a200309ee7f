// Package upscaler holds the model cache and the per-request lifecycle
// controller: preprocess, acquire an engine, run tiled inference, encode,
// and unconditionally purge every intermediate buffer before returning.
package upscaler

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"upscaled/internal/engine"
	"upscaled/internal/imaging"
	"upscaled/internal/registry"
	"upscaled/internal/weights"
	"upscaled/pkg/types"
)

// Defaults applied when corresponding ServiceConfig fields are unset.
const (
	defaultMaxResolution = 1024
	defaultQuality       = 95
	defaultTimeout       = 60 * time.Second
)

// ServiceConfig encapsulates all tunables for Service construction.
type ServiceConfig struct {
	// MaxResolution is the longest input side accepted without
	// pre-downscaling, in pixels.
	MaxResolution int
	// Quality is the encode quality for lossy output formats.
	Quality int
	// Timeout is the wall-clock ceiling for one request's execution slot.
	Timeout time.Duration
	// DefaultModel is used when a request omits the model id.
	DefaultModel string
}

// Service is the request lifecycle controller. The only long-lived shared
// mutable state it touches is the engine cache; image buffers are
// request-local and gone by the time a request returns.
type Service struct {
	cache        *Cache
	maxRes       int
	quality      int
	timeout      time.Duration
	defaultModel string
	log          zerolog.Logger
}

// NewService constructs the controller around an engine cache.
func NewService(cache *Cache, cfg ServiceConfig, log zerolog.Logger) *Service {
	s := &Service{
		cache:        cache,
		maxRes:       cfg.MaxResolution,
		quality:      cfg.Quality,
		timeout:      cfg.Timeout,
		defaultModel: cfg.DefaultModel,
		log:          log,
	}
	if s.maxRes <= 0 {
		s.maxRes = defaultMaxResolution
	}
	if s.quality <= 0 {
		s.quality = defaultQuality
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.defaultModel == "" {
		s.defaultModel = registry.IDs()[0]
	}
	return s
}

// Result is one encoded response image.
type Result struct {
	Data        []byte
	ContentType string
}

// ListModels returns the fixed model set.
func (s *Service) ListModels() []types.Model { return registry.Models() }

// Status reports the cache state for GET /status.
func (s *Service) Status() types.StatusResponse { return s.cache.Status() }

// Ready reports whether the service can take requests. The serial fallback
// device is always available, so readiness only requires construction.
func (s *Service) Ready() bool { return s.cache != nil }

// Process runs one request end to end: validate, pre-downscale, normalize,
// acquire the engine, run tiled inference under the execution slot
// deadline, and encode. The purge in the deferred block runs on every exit
// path, including cancellation, and the error a caller sees is always a
// taxonomy member, never internal error text.
func (s *Service) Process(ctx context.Context, payload []byte, modelID, format string) (_ Result, err error) {
	if len(payload) == 0 {
		return Result{}, ErrInvalidInput("image is required")
	}
	if modelID == "" {
		modelID = s.defaultModel
	}
	outFormat := imaging.ParseFormat(format)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	scratch := &scratch{}
	defer func() {
		scratch.release()
		purgeHost()
		purgeRuns.Inc()
		if err != nil {
			err = s.sanitize(ctx, modelID, err)
		}
	}()

	img, derr := imaging.Decode(payload)
	if derr != nil {
		return Result{}, ErrInvalidInput("unreadable image")
	}

	img, err = imaging.FitWithin(img, s.maxRes)
	if err != nil {
		return Result{}, err
	}

	in := imaging.ToPlane(img)
	scratch.add(in)

	eng, err := s.cache.Get(ctx, modelID)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	out, err := engine.Enhance(ctx, eng, in, eng.Scale())
	if err != nil {
		return Result{}, err
	}
	scratch.add(out)
	inferenceDuration.WithLabelValues(modelID).Observe(time.Since(start).Seconds())
	tilesProcessed.WithLabelValues(modelID).Add(float64(tileCount(in, eng.Budget())))

	encoded := imaging.FromPlane(out)
	var buf bytes.Buffer
	if err := outFormat.Encode(&buf, encoded, s.quality); err != nil {
		return Result{}, err
	}
	return Result{Data: buf.Bytes(), ContentType: outFormat.ContentType()}, nil
}

// Close tears down the engine cache at process stop.
func (s *Service) Close() error { return s.cache.Close() }

// sanitize converts an internal failure into the caller-visible taxonomy.
// Specific members pass through; everything else is logged (message only,
// never pixels) and collapsed to the opaque processing error.
func (s *Service) sanitize(ctx context.Context, modelID string, err error) error {
	switch {
	case IsInvalidInput(err), IsModelNotFound(err), IsDeviceExhausted(err), IsTimeout(err), IsProcessingFailed(err):
		return err
	case weights.IsUnavailable(err):
		s.log.Error().Str("model", modelID).Err(err).Msg("weight resolution failed")
		return ErrProcessingFailed()
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Warn().Str("model", modelID).Msg("request exceeded execution slot")
		return ErrTimeout()
	case errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled):
		// Caller aborted; cleanup has already run. The wrapped internal
		// detail stays inside the process.
		return context.Canceled
	case looksLikeDeviceExhaustion(err):
		s.log.Error().Str("model", modelID).Msg("device allocation failed")
		return ErrDeviceExhausted()
	default:
		s.log.Error().Str("model", modelID).Err(err).Msg("processing failed")
		return ErrProcessingFailed()
	}
}

// looksLikeDeviceExhaustion matches the runtime's allocation-failure
// surface, which arrives as formatted text rather than a typed error.
func looksLikeDeviceExhaustion(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "failed to allocate") ||
		strings.Contains(msg, "cuda error")
}

// scratch tracks every request-local plane so the deferred purge can drop
// their buffers even when an error unwinds mid-pipeline.
type scratch struct {
	planes []*imaging.Plane
}

func (s *scratch) add(p *imaging.Plane) { s.planes = append(s.planes, p) }

func (s *scratch) release() {
	for _, p := range s.planes {
		p.Release()
	}
	s.planes = nil
}

// purgeHost forces an immediate reclamation pass over host memory, the
// counterpart of the original deployment's explicit collector run after
// each request. Device-side per-call tensors are destroyed eagerly inside
// the engine.
func purgeHost() {
	runtime.GC()
	debug.FreeOSMemory()
}

// tileCount computes how many tiles the budget implies for an input plane.
func tileCount(p *imaging.Plane, b engine.TileBudget) int {
	if b.TileSize <= 0 {
		return 1
	}
	w := p.W + 2*b.PrePad
	h := p.H + 2*b.PrePad
	return ((w + b.TileSize - 1) / b.TileSize) * ((h + b.TileSize - 1) / b.TileSize)
}
