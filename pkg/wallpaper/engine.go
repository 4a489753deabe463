package wallpaper

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/util/log"
)

// Fallback is the fixed external provider used when the configured pool fails.
type Fallback interface {
	FetchOne(ctx context.Context) (*provider.ImageResult, error)
}

// ResolveOptions control one resolution.
type ResolveOptions struct {
	UseCache        bool // enter CheckCache first
	PreferBing      bool // keep a cached fallback image over defaultPic
	SkipUserDefault bool // stop before TryUserDefault; refreshes must not recycle defaultPic into cachedPic
}

// Resolver is what the refresh coordinator needs from the engine.
type Resolver interface {
	Resolve(ctx context.Context, opts ResolveOptions) *provider.ImageResult
}

// Engine walks the fallback chain: cache, weighted providers, external fallback, user default.
type Engine struct {
	registry *Registry
	cache    *PicCache
	fallback Fallback

	mu        sync.RWMutex
	instances []*ProviderInstance

	rngMu sync.Mutex
	rng   *rand.Rand
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithRand makes provider selection reproducible.
func WithRand(r *rand.Rand) EngineOption {
	return func(e *Engine) {
		e.rng = r
	}
}

// NewEngine creates an engine and instantiates configs through registry.
func NewEngine(registry *Registry, cache *PicCache, fallback Fallback, configs []config.ProviderConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		cache:    cache,
		fallback: fallback,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reload(configs)
	return e
}

// Reload discards the current provider instances and builds a fresh set.
func (e *Engine) Reload(configs []config.ProviderConfig) {
	instances := e.registry.Instantiate(configs)
	e.mu.Lock()
	e.instances = instances
	e.mu.Unlock()
	log.Printf("Provider pool rebuilt: %d of %d configured providers usable", len(instances), len(configs))
}

// Instances returns a snapshot of the current provider instances.
func (e *Engine) Instances() []*ProviderInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ProviderInstance, len(e.instances))
	copy(out, e.instances)
	return out
}

// Cache returns the picture cache the engine reads from.
func (e *Engine) Cache() *PicCache {
	return e.cache
}

// Resolve returns a wallpaper or nil when every step came back empty.
func (e *Engine) Resolve(ctx context.Context, opts ResolveOptions) *provider.ImageResult {
	img, _ := e.ResolveWithStage(ctx, opts)
	return img
}

// ResolveWithStage is Resolve that also reports which stage produced the result.
func (e *Engine) ResolveWithStage(ctx context.Context, opts ResolveOptions) (*provider.ImageResult, Stage) {
	if opts.UseCache {
		if img := e.checkCache(ctx, opts.PreferBing); img != nil {
			return img, StageCheckCache
		}
	}
	if img := e.tryProviders(ctx); img != nil {
		return img, StageTryProviders
	}
	if img := e.tryExternalFallback(ctx); img != nil {
		return img, StageTryExternalFallback
	}
	if !opts.SkipUserDefault {
		if img := e.readSlot(ctx, SlotDefault); img != nil {
			img.SourceType = provider.SourceUserDefault
			img.SourceAddress = ""
			return img, StageTryUserDefault
		}
	}
	log.Print("No wallpaper available from any source")
	return nil, StageExhausted
}

// checkCache applies the cache preference rules: a cached non-fallback image
// always wins; a cached fallback image loses to defaultPic unless preferBing.
func (e *Engine) checkCache(ctx context.Context, preferBing bool) *provider.ImageResult {
	cached := e.readSlot(ctx, SlotCached)
	if cached == nil {
		return nil
	}
	if cached.SourceType != provider.SourceBingFallback {
		log.Debugf("Loaded from cache: %s", cached.Message)
		return cached
	}
	if preferBing {
		return cached
	}
	if def := e.readSlot(ctx, SlotDefault); def != nil {
		def.SourceType = provider.SourceUserDefault
		def.SourceAddress = ""
		return def
	}
	return cached
}

func (e *Engine) readSlot(ctx context.Context, slot Slot) *provider.ImageResult {
	if e.cache == nil {
		return nil
	}
	img, err := e.cache.Get(ctx, string(slot))
	if err != nil {
		log.Warnf("failed to read %s: %v", slot, err)
		return nil
	}
	return img
}

// tryProviders makes exactly one weighted pick and one adapter call.
func (e *Engine) tryProviders(ctx context.Context) *provider.ImageResult {
	instances := e.Instances()
	if len(instances) == 0 {
		return nil
	}
	weights := make([]int, len(instances))
	for i, inst := range instances {
		weights[i] = inst.Weight
	}
	total := TotalWeight(weights)
	if total <= 0 {
		log.Debugf("Provider pool has zero total weight, skipping")
		return nil
	}
	idx := PickWeighted(weights, e.draw(total))
	if idx < 0 {
		return nil
	}
	inst := instances[idx]
	log.Debugf("Picked provider %s (%s), weight %d of %d", inst.Address, inst.Type, inst.Weight, total)
	return inst.FetchOne(ctx)
}

// draw returns a uniform integer in [1, total].
func (e *Engine) draw(total int) int {
	if e.rng == nil {
		return rand.IntN(total) + 1
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(total) + 1
}

func (e *Engine) tryExternalFallback(ctx context.Context) (img *provider.ImageResult) {
	if e.fallback == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, BingTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Warnf("external fallback panicked: %v", r)
			img = nil
		}
	}()

	result, err := e.fallback.FetchOne(ctx)
	if err != nil {
		log.Warnf("external fallback failed: %v", provider.Classify(err))
		return nil
	}
	if result == nil {
		return nil
	}
	if err := result.Inspect(); err != nil {
		log.Warnf("external fallback returned an unusable image: %v", err)
		return nil
	}
	result.SourceType = provider.SourceBingFallback
	result.SourceAddress = ""
	result.FetchedAt = time.Now()
	return result
}
