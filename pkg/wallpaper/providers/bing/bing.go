// Package bing fetches the Bing image of the day, the fixed fallback of the resolution chain.
package bing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/util/log"
)

// Fallback is the Bing daily image source.
type Fallback struct {
	httpClient *http.Client
	endpoint   string
}

// New creates a Fallback against endpoint, or DefaultEndpoint when empty.
func New(client *http.Client, endpoint string) *Fallback {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Fallback{httpClient: client, endpoint: endpoint}
}

type archiveResponse struct {
	Images []struct {
		URL       string `json:"url"`
		Copyright string `json:"copyright"`
		Title     string `json:"title"`
	} `json:"images"`
}

// FetchOne reads today's image metadata and downloads the picture.
func (f *Fallback) FetchOne(ctx context.Context) (*provider.ImageResult, error) {
	var archive archiveResponse
	if err := provider.GetJSON(ctx, f.httpClient, f.endpoint+archivePath, provider.MetadataTimeout, nil, &archive); err != nil {
		return nil, fmt.Errorf("bing: fetch archive: %w", err)
	}
	if len(archive.Images) == 0 || archive.Images[0].URL == "" {
		return nil, fmt.Errorf("bing: %w: archive lists no image", provider.ErrNetworkFailure)
	}
	entry := archive.Images[0]

	picURL := f.endpoint + entry.URL
	log.Debugf("Downloading Bing image %s", picURL)
	data, err := provider.GetPic(ctx, f.httpClient, picURL, provider.DownloadTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("bing: download: %w", err)
	}
	return &provider.ImageResult{
		Message: entry.Copyright + " 来自 " + sourceLabel,
		Name:    entry.Title,
		Pic:     data,
	}, nil
}
