package upscaler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"upscaled/internal/device"
	"upscaled/internal/engine"
	"upscaled/internal/registry"
	"upscaled/pkg/types"
)

// WeightResolver is the slice of the weight store the cache needs. It is an
// interface so tests can substitute a fake store.
type WeightResolver interface {
	Resolve(ctx context.Context, cfg registry.ModelConfig) (string, error)
}

// BuildFunc constructs a device-bound engine from a resolved weight file.
// The default wires engine.NewONNX; tests inject mock builders.
type BuildFunc func(cfg registry.ModelConfig, weightPath string, prof device.Profile, budget engine.TileBudget) (engine.Engine, error)

// entry is one cached engine plus its bookkeeping.
type entry struct {
	eng      engine.Engine
	lastUsed time.Time
	requests int64
}

// Cache maps model ids to initialized, device-bound engines. The device is
// re-inspected on every access; when it differs from the device recorded at
// the previous access the whole table is invalidated, since engines built
// for one backend are not reusable on another. Construction is serialized
// per model id so racing cold requests share a single build.
type Cache struct {
	mu       sync.Mutex
	selector device.Selector
	store    WeightResolver
	build    BuildFunc
	budget   engine.TileBudget
	log      zerolog.Logger

	engines       map[string]*entry
	current       device.Profile
	primed        bool
	invalidations int64

	group singleflight.Group
}

// NewCache creates an engine cache. selector and store are injected so the
// cache can be exercised with fakes; build defaults to the ONNX engine
// constructor when nil.
func NewCache(selector device.Selector, store WeightResolver, build BuildFunc, budget engine.TileBudget, log zerolog.Logger) *Cache {
	if build == nil {
		build = engine.NewONNX
	}
	return &Cache{
		selector: selector,
		store:    store,
		build:    build,
		budget:   budget,
		log:      log,
		engines:  make(map[string]*entry),
	}
}

// Get returns the engine for modelID, building it on first use. For a fixed
// device at most one build per model id occurs over the process lifetime.
func (c *Cache) Get(ctx context.Context, modelID string) (engine.Engine, error) {
	cfg, ok := registry.Lookup(modelID)
	if !ok {
		return nil, ErrModelNotFound(modelID)
	}

	c.mu.Lock()
	c.syncDeviceLocked()
	prof := c.current
	if e, ok := c.engines[modelID]; ok {
		e.lastUsed = time.Now()
		e.requests++
		eng := e.eng
		c.mu.Unlock()
		cacheHits.Inc()
		return eng, nil
	}
	c.mu.Unlock()
	cacheMisses.Inc()

	v, err, _ := c.group.Do(modelID, func() (any, error) {
		// A concurrent caller may have finished the build while this one
		// queued on the flight.
		c.mu.Lock()
		if e, ok := c.engines[modelID]; ok {
			e.lastUsed = time.Now()
			e.requests++
			eng := e.eng
			c.mu.Unlock()
			return eng, nil
		}
		c.mu.Unlock()

		path, err := c.store.Resolve(ctx, cfg)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		eng, err := c.build(cfg, path, prof, c.budget)
		if err != nil {
			// Failed builds never enter the table.
			return nil, err
		}

		c.mu.Lock()
		if c.primed && c.current.Kind != prof.Kind {
			// Device reassigned mid-build; the engine is bound to the wrong
			// backend and must not be cached.
			c.mu.Unlock()
			eng.Close()
			return nil, fmt.Errorf("device changed during model load")
		}
		c.engines[modelID] = &entry{eng: eng, lastUsed: time.Now(), requests: 1}
		c.mu.Unlock()

		c.log.Info().
			Str("model", modelID).
			Str("device", string(prof.Kind)).
			Bool("half", prof.HalfPrecision).
			Dur("dur", time.Since(start)).
			Msg("engine built")
		return eng, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(engine.Engine), nil
}

// syncDeviceLocked records the freshly selected device, clearing the table
// when the backend differs from the one recorded at the previous access.
func (c *Cache) syncDeviceLocked() {
	prof := c.selector.Select()
	if c.primed && prof.Kind != c.current.Kind {
		c.log.Info().
			Str("from", string(c.current.Kind)).
			Str("to", string(prof.Kind)).
			Int("dropped", len(c.engines)).
			Msg("device changed, invalidating engine cache")
		c.clearLocked()
		c.invalidations++
		cacheInvalidations.Inc()
	}
	c.current = prof
	c.primed = true
}

func (c *Cache) clearLocked() {
	for id, e := range c.engines {
		if err := e.eng.Close(); err != nil {
			c.log.Warn().Str("model", id).Err(err).Msg("engine close failed")
		}
		delete(c.engines, id)
	}
}

// Len reports the number of cached engines.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.engines)
}

// Status builds the cache portion of GET /status.
func (c *Cache) Status() types.StatusResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := types.StatusResponse{
		Device:        string(c.current.Kind),
		HalfPrecision: c.current.HalfPrecision,
		Invalidations: c.invalidations,
		Engines:       make([]types.EngineStatus, 0, len(c.engines)),
	}
	for id, e := range c.engines {
		resp.Engines = append(resp.Engines, types.EngineStatus{
			ModelID:  id,
			LastUsed: e.lastUsed.Unix(),
			Requests: e.requests,
		})
	}
	sort.Slice(resp.Engines, func(i, j int) bool { return resp.Engines[i].ModelID < resp.Engines[j].ModelID })
	return resp
}

// Close tears the cache down at process stop, closing every engine.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	return nil
}
