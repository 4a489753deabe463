// Package pexels implements an adapter for the Pexels photo search API.
package pexels

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"

	"github.com/google/go-querystring/query"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/wallpaper"
	"github.com/dixieflatline76/TabSpice/util/log"
)

func init() {
	wallpaper.RegisterAdapter(Type, provider.Settings{
		"query":       defaultQuery,
		"orientation": "landscape",
		"max_page":    defaultMaxPage,
	}, func(client *http.Client) provider.Adapter {
		return NewAdapter(client)
	})
}

// Settings are the per-provider settings of a Pexels adapter.
type Settings struct {
	Query       string `json:"query"`
	Orientation string `json:"orientation"`
	Size        string `json:"size"`
	Color       string `json:"color"`
	MaxPage     int    `json:"max_page"`
	APIKey      string `json:"api_key"`
}

type searchQuery struct {
	Query       string `url:"query"`
	Orientation string `url:"orientation,omitempty"`
	Size        string `url:"size,omitempty"`
	Color       string `url:"color,omitempty"`
	PerPage     int    `url:"per_page"`
	Page        int    `url:"page"`
}

// Adapter fetches one photo from a random page of a Pexels search.
type Adapter struct {
	httpClient *http.Client
	apiKey     func() string
	page       func(maxPage int) int
}

// NewAdapter creates a Pexels adapter that falls back to the keyring for its API key.
func NewAdapter(client *http.Client) *Adapter {
	return &Adapter{
		httpClient: client,
		apiKey:     keyringAPIKey,
		page:       func(maxPage int) int { return rand.IntN(maxPage) + 1 },
	}
}

func keyringAPIKey() string {
	key, err := config.GetSecret(config.PexelsAPIKey)
	if err != nil {
		if !errors.Is(err, config.ErrSecretNotFound) {
			log.Warnf("%v", err)
		}
		return ""
	}
	return key
}

// FetchOne searches a random page and downloads its photo.
func (a *Adapter) FetchOne(ctx context.Context, address string, settings provider.Settings) (*provider.ImageResult, error) {
	var s Settings
	if err := settings.Decode(&s); err != nil {
		return nil, fmt.Errorf("[%s] %w", Type, err)
	}
	if s.Query == "" {
		s.Query = defaultQuery
	}
	if s.MaxPage <= 0 {
		s.MaxPage = defaultMaxPage
	}
	if s.APIKey == "" && a.apiKey != nil {
		s.APIKey = a.apiKey()
	}
	if s.APIKey == "" {
		return nil, fmt.Errorf("[%s] %w: pexels API key is missing", Type, provider.ErrInvalidSettings)
	}

	values, err := query.Values(searchQuery{
		Query:       s.Query,
		Orientation: s.Orientation,
		Size:        s.Size,
		Color:       s.Color,
		PerPage:     perPage,
		Page:        a.page(s.MaxPage),
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: %v", Type, provider.ErrInvalidSettings, err)
	}

	header := http.Header{"Authorization": {s.APIKey}}
	apiURL := address + searchPath + "?" + values.Encode()
	log.Debugf("Fetching Pexels images from: %s", apiURL)

	var resp searchResponse
	if err := provider.GetJSON(ctx, a.httpClient, apiURL, provider.MetadataTimeout, header, &resp); err != nil {
		if resp.Error != "" {
			return nil, fmt.Errorf("[%s] search: %s: %w", Type, resp.Error, err)
		}
		return nil, fmt.Errorf("[%s] search: %w", Type, err)
	}
	if len(resp.Photos) == 0 {
		return nil, fmt.Errorf("[%s] %w: search page %d returned no photos", Type, provider.ErrNetworkFailure, resp.Page)
	}
	photo := resp.Photos[0]
	picURL := photo.Src.Original
	if picURL == "" {
		picURL = photo.Src.Large2x
	}
	if picURL == "" {
		return nil, fmt.Errorf("[%s] %w: photo %d has no source", Type, provider.ErrNetworkFailure, photo.ID)
	}

	data, err := provider.GetPic(ctx, a.httpClient, picURL, provider.DownloadTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("[%s] download %d: %w", Type, photo.ID, err)
	}
	return &provider.ImageResult{
		Message: fmt.Sprintf("%s by %s 来自 %s", photo.Alt, photo.Photographer, address),
		Name:    fmt.Sprintf("pexels-%d", photo.ID),
		Pic:     data,
	}, nil
}

type searchResponse struct {
	Page   int     `json:"page"`
	Photos []photo `json:"photos"`
	Error  string  `json:"error"`
}

type photo struct {
	ID           int    `json:"id"`
	URL          string `json:"url"`
	Alt          string `json:"alt"`
	Photographer string `json:"photographer"`
	Src          struct {
		Original string `json:"original"`
		Large2x  string `json:"large2x"`
	} `json:"src"`
}
