package wallpaper

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/provider/providertest"
	"github.com/dixieflatline76/TabSpice/pkg/store"
)

// countingAdapter returns a fresh picture per call and counts calls per address.
type countingAdapter struct {
	calls   atomic.Int64
	fail    bool
	perAddr map[string]*atomic.Int64
}

func newCountingAdapter(addrs ...string) *countingAdapter {
	a := &countingAdapter{perAddr: make(map[string]*atomic.Int64)}
	for _, addr := range addrs {
		a.perAddr[addr] = &atomic.Int64{}
	}
	return a
}

func (a *countingAdapter) FetchOne(_ context.Context, address string, _ provider.Settings) (*provider.ImageResult, error) {
	a.calls.Add(1)
	if c, ok := a.perAddr[address]; ok {
		c.Add(1)
	}
	if a.fail {
		return nil, provider.ErrNetworkFailure
	}
	return &provider.ImageResult{
		Message: "from " + address,
		Name:    "p.png",
		Pic:     providertest.PNG(4, 3),
	}, nil
}

// stubFallback stands in for the external fallback.
type stubFallback struct {
	calls atomic.Int64
	img   *provider.ImageResult
	err   error
	panic bool
}

func (f *stubFallback) FetchOne(context.Context) (*provider.ImageResult, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	if f.img == nil {
		return nil, f.err
	}
	cp := *f.img
	return &cp, f.err
}

func bingImage() *provider.ImageResult {
	return &provider.ImageResult{
		Message: "Sunrise 来自 cn.bing.com",
		Name:    "/th?id=OHR.Sunrise.jpg",
		Pic:     providertest.JPEG(8, 6),
	}
}

func failingFallback() *stubFallback {
	return &stubFallback{err: errors.New("offline")}
}

func providerConfigs(weights map[string]int, order ...string) []config.ProviderConfig {
	out := make([]config.ProviderConfig, 0, len(order))
	for _, addr := range order {
		out = append(out, config.ProviderConfig{
			Address: addr,
			Type:    "counting",
			Weight:  config.WeightOf(weights[addr]),
		})
	}
	return out
}

func newTestEngine(adapter provider.Adapter, fallback Fallback, configs []config.ProviderConfig, opts ...EngineOption) (*Engine, *PicCache) {
	reg := NewRegistry()
	reg.Register("counting", nil, adapter)
	cache := NewPicCache(store.NewMemory())
	return NewEngine(reg, cache, fallback, configs, opts...), cache
}

// MockStorage records every call that reaches the storage backend.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Bool(1), args.Error(2)
}

func (m *MockStorage) Set(ctx context.Context, key string, data []byte, overwrite bool) (bool, error) {
	args := m.Called(ctx, key, data, overwrite)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
