package wallpaper

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
)

func TestAdapterRegistry(t *testing.T) {
	RegisterAdapter("registryTest", provider.Settings{"collection": "all"}, func(*http.Client) provider.Adapter {
		return newCountingAdapter()
	})

	assert.Contains(t, GetRegisteredAdapters(), "registryTest")

	reg := NewDefaultRegistry(&http.Client{})
	assert.Contains(t, reg.Types(), "registryTest")

	adapter, template, err := reg.Lookup("registryTest")
	require.NoError(t, err)
	assert.NotNil(t, adapter)
	assert.Equal(t, "all", template["collection"])

	template["collection"] = "mutated"
	_, again, err := reg.Lookup("registryTest")
	require.NoError(t, err)
	assert.Equal(t, "all", again["collection"], "templates are handed out as copies")

	_, _, err = reg.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownProviderType)
}

func TestInstantiate(t *testing.T) {
	reg := NewRegistry()
	reg.Register("counting", provider.Settings{"collection": "default"}, newCountingAdapter())

	instances := reg.Instantiate([]config.ProviderConfig{
		{Address: "http://a/", Type: "counting"},
		{Address: "http://b/", Type: "missing", Weight: config.WeightOf(5)},
		{Address: "http://c/", Type: "counting", Weight: config.WeightOf(0), Settings: map[string]any{"collection": "cats"}},
		{Address: "http://d/", Type: "counting", Weight: config.WeightOf(-3)},
	})

	require.Len(t, instances, 3)
	assert.Equal(t, "http://a/", instances[0].Address)
	assert.Equal(t, config.DefaultWeight, instances[0].Weight, "omitted weight defaults")
	assert.Equal(t, "default", instances[0].Settings["collection"], "empty settings take the template")

	assert.Equal(t, "http://c/", instances[1].Address)
	assert.Equal(t, 0, instances[1].Weight)
	assert.Equal(t, "cats", instances[1].Settings["collection"])

	assert.Equal(t, 0, instances[2].Weight, "negative weights are clamped")
}

func TestProviderInstance_FetchOneNeverFails(t *testing.T) {
	tests := []struct {
		name    string
		adapter provider.Adapter
	}{
		{"error", provider.AdapterFunc(func(context.Context, string, provider.Settings) (*provider.ImageResult, error) {
			return nil, provider.ErrNetworkTimeout
		})},
		{"nil result", provider.AdapterFunc(func(context.Context, string, provider.Settings) (*provider.ImageResult, error) {
			return nil, nil
		})},
		{"panic", provider.AdapterFunc(func(context.Context, string, provider.Settings) (*provider.ImageResult, error) {
			panic("bad adapter")
		})},
		{"empty pic", provider.AdapterFunc(func(context.Context, string, provider.Settings) (*provider.ImageResult, error) {
			return &provider.ImageResult{Name: "x"}, nil
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register("x", nil, tt.adapter)
			instances := reg.Instantiate([]config.ProviderConfig{{Address: "http://x/", Type: "x"}})
			require.Len(t, instances, 1)
			assert.Nil(t, instances[0].FetchOne(context.Background()))
		})
	}
}
