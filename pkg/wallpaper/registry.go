package wallpaper

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/util/log"
)

// AdapterFactory builds an adapter bound to the shared HTTP client.
type AdapterFactory func(client *http.Client) provider.Adapter

type adapterRegistration struct {
	template provider.Settings
	factory  AdapterFactory
}

var (
	adapterFactories   = make(map[string]adapterRegistration)
	adapterFactoriesMu sync.RWMutex
)

// RegisterAdapter registers a built-in adapter factory. Adapter packages call it from init().
func RegisterAdapter(adapterType string, template provider.Settings, factory AdapterFactory) {
	adapterFactoriesMu.Lock()
	defer adapterFactoriesMu.Unlock()
	adapterFactories[adapterType] = adapterRegistration{template: template, factory: factory}
}

// GetRegisteredAdapters returns the names of all registered adapter factories.
func GetRegisteredAdapters() []string {
	adapterFactoriesMu.RLock()
	defer adapterFactoriesMu.RUnlock()
	names := make([]string, 0, len(adapterFactories))
	for name := range adapterFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type adapterEntry struct {
	template provider.Settings
	adapter  provider.Adapter
}

// Registry maps adapter type names to live adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapterEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]adapterEntry)}
}

// NewDefaultRegistry creates a registry holding every adapter registered through RegisterAdapter.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry()
	adapterFactoriesMu.RLock()
	defer adapterFactoriesMu.RUnlock()
	for name, reg := range adapterFactories {
		r.Register(name, reg.template, reg.factory(client))
	}
	return r
}

// Register binds adapterType to adapter. template is used when a config carries no settings.
func (r *Registry) Register(adapterType string, template provider.Settings, adapter provider.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapterType] = adapterEntry{template: template.Clone(), adapter: adapter}
}

// Types returns the registered adapter types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Lookup returns the adapter and a copy of its settings template.
func (r *Registry) Lookup(adapterType string) (provider.Adapter, provider.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.adapters[adapterType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, adapterType)
	}
	return entry.adapter, entry.template.Clone(), nil
}

// Instantiate binds each config with a registered type into a ProviderInstance, preserving order.
// Unknown types are skipped; they are expected while adapters are renamed or retired.
func (r *Registry) Instantiate(configs []config.ProviderConfig) []*ProviderInstance {
	instances := make([]*ProviderInstance, 0, len(configs))
	for _, cfg := range configs {
		adapter, template, err := r.Lookup(cfg.Type)
		if err != nil {
			log.Debugf("Skipping provider %s: %v", cfg.Address, err)
			continue
		}
		settings := provider.Settings(cfg.Settings)
		if len(settings) == 0 {
			settings = template
		} else {
			settings = settings.Clone()
		}
		if cfg.Weight != nil && *cfg.Weight < 0 {
			log.Warnf("provider %s has negative weight %d, treating it as 0", cfg.Address, *cfg.Weight)
		}
		instances = append(instances, &ProviderInstance{
			Address:  cfg.Address,
			Type:     cfg.Type,
			Weight:   cfg.EffectiveWeight(),
			Settings: settings,
			adapter:  adapter,
		})
	}
	return instances
}

// ProviderInstance is one configured provider bound to its adapter.
type ProviderInstance struct {
	Address  string
	Type     string
	Weight   int
	Settings provider.Settings
	adapter  provider.Adapter
}

// FetchOne asks the adapter for one image. It never fails: errors, panics,
// timeouts and invalid payloads are logged and come back as nil.
func (pi *ProviderInstance) FetchOne(ctx context.Context) (img *provider.ImageResult) {
	ctx, cancel := context.WithTimeout(ctx, provider.InstanceDeadline)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Warnf("[%s] adapter panicked for %s: %v", pi.Type, pi.Address, r)
			img = nil
		}
	}()

	result, err := pi.adapter.FetchOne(ctx, pi.Address, pi.Settings)
	if err != nil {
		log.Warnf("[%s] failed to fetch image from %s: %v", pi.Type, pi.Address, provider.Classify(err))
		return nil
	}
	if result == nil {
		return nil
	}
	if err := result.Inspect(); err != nil {
		log.Warnf("[%s] %s returned an unusable image: %v", pi.Type, pi.Address, err)
		return nil
	}
	result.SourceType = provider.SourceCachedAPI
	result.SourceAddress = pi.Address
	result.FetchedAt = time.Now()
	return result
}
