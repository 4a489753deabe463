// Package wallhaven implements an adapter for the wallhaven.cc search API.
package wallhaven

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-querystring/query"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/wallpaper"
	"github.com/dixieflatline76/TabSpice/util/log"
)

func init() {
	wallpaper.RegisterAdapter(Type, provider.Settings{
		"categories": defaultCategories,
		"purity":     defaultPurity,
	}, func(client *http.Client) provider.Adapter {
		return NewAdapter(client)
	})
}

// Settings are the per-provider settings of a wallhaven adapter.
type Settings struct {
	Query      string `json:"q"`
	Categories string `json:"categories"`
	Purity     string `json:"purity"`
	AtLeast    string `json:"atleast"`
	Ratios     string `json:"ratios"`
	APIKey     string `json:"api_key"`
}

// searchQuery is the wire form of a random search.
type searchQuery struct {
	Query      string `url:"q,omitempty"`
	Categories string `url:"categories,omitempty"`
	Purity     string `url:"purity,omitempty"`
	AtLeast    string `url:"atleast,omitempty"`
	Ratios     string `url:"ratios,omitempty"`
	Sorting    string `url:"sorting"`
	APIKey     string `url:"apikey,omitempty"`
}

// Adapter fetches one random wallpaper per call from a wallhaven instance.
type Adapter struct {
	httpClient *http.Client
	apiKey     func() string
}

// NewAdapter creates a wallhaven adapter that falls back to the keyring for its API key.
func NewAdapter(client *http.Client) *Adapter {
	return &Adapter{httpClient: client, apiKey: keyringAPIKey}
}

func keyringAPIKey() string {
	key, err := config.GetSecret(config.WallhavenAPIKey)
	if err != nil {
		if !errors.Is(err, config.ErrSecretNotFound) {
			log.Warnf("%v", err)
		}
		return ""
	}
	return key
}

// FetchOne runs a random search and downloads the first hit.
func (a *Adapter) FetchOne(ctx context.Context, address string, settings provider.Settings) (*provider.ImageResult, error) {
	var s Settings
	if err := settings.Decode(&s); err != nil {
		return nil, fmt.Errorf("[%s] %w", Type, err)
	}
	if s.APIKey == "" && a.apiKey != nil {
		s.APIKey = a.apiKey()
	}

	values, err := query.Values(searchQuery{
		Query:      s.Query,
		Categories: s.Categories,
		Purity:     s.Purity,
		AtLeast:    s.AtLeast,
		Ratios:     s.Ratios,
		Sorting:    sortingRandom,
		APIKey:     s.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: %v", Type, provider.ErrInvalidSettings, err)
	}

	var resp searchResponse
	if err := provider.GetJSON(ctx, a.httpClient, address+searchPath+"?"+values.Encode(), provider.MetadataTimeout, nil, &resp); err != nil {
		if resp.Error != "" {
			return nil, fmt.Errorf("[%s] search: %s: %w", Type, resp.Error, err)
		}
		return nil, fmt.Errorf("[%s] search: %w", Type, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Path == "" {
		return nil, fmt.Errorf("[%s] %w: search returned no wallpapers", Type, provider.ErrNetworkFailure)
	}
	hit := resp.Data[0]
	log.Debugf("[%s] picked %s uploaded by '%s'", Type, hit.ID, hit.Uploader.Username)

	data, err := provider.GetPic(ctx, a.httpClient, hit.Path, provider.DownloadTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("[%s] download %s: %w", Type, hit.ID, err)
	}
	return &provider.ImageResult{
		Message: describe(hit, address),
		Name:    hit.ID,
		Pic:     data,
	}, nil
}

func describe(hit searchImage, address string) string {
	if hit.Uploader.Username != "" {
		return fmt.Sprintf("%s by %s 来自 %s", hit.ID, hit.Uploader.Username, address)
	}
	return fmt.Sprintf("%s 来自 %s", hit.ID, address)
}

// --- Wallhaven JSON Structs ---

// searchResponse is the response from the wallhaven search API
type searchResponse struct {
	Data  []searchImage `json:"data"`
	Error string        `json:"error"`
}

// searchImage represents one wallpaper of a search page.
type searchImage struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	ShortURL string `json:"short_url"`
	FileType string `json:"file_type"`
	Uploader struct {
		Username string `json:"username"`
	} `json:"uploader"`
}
