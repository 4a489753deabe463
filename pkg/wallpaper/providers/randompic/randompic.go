// Package randompic implements adapters for self-hosted randomPic image servers.
package randompic

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/wallpaper"
	"github.com/dixieflatline76/TabSpice/util/log"
)

func init() {
	wallpaper.RegisterAdapter(TypeV1, provider.Settings{}, func(client *http.Client) provider.Adapter {
		return NewV1(client)
	})
	wallpaper.RegisterAdapter(TypeV2, provider.Settings{"collections": []string{}}, func(client *http.Client) provider.Adapter {
		return NewV2(client)
	})
}

// V1 talks to servers exposing GET random and GET pic?name=.
type V1 struct {
	httpClient *http.Client
}

// NewV1 creates a V1 adapter.
func NewV1(client *http.Client) *V1 {
	return &V1{httpClient: client}
}

type v1Meta struct {
	Pic     string `json:"pic"`
	Message string `json:"message"`
}

// FetchOne asks the server for a random picture name and downloads it.
func (a *V1) FetchOne(ctx context.Context, address string, _ provider.Settings) (*provider.ImageResult, error) {
	var meta v1Meta
	if err := provider.GetJSON(ctx, a.httpClient, address+v1RandomPath, provider.MetadataTimeout, nil, &meta); err != nil {
		if meta.Message != "" {
			return nil, fmt.Errorf("[%s] fetch metadata: %s: %w", TypeV1, meta.Message, err)
		}
		return nil, fmt.Errorf("[%s] fetch metadata: %w", TypeV1, err)
	}
	if meta.Pic == "" {
		return nil, fmt.Errorf("[%s] %w: metadata carries no picture name", TypeV1, provider.ErrNetworkFailure)
	}

	picURL := address + v1PicPath + "?" + url.Values{"name": {meta.Pic}}.Encode()
	log.Debugf("[%s] downloading %s", TypeV1, picURL)
	data, err := provider.GetPic(ctx, a.httpClient, picURL, provider.DownloadTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("[%s] download %s: %w", TypeV1, meta.Pic, err)
	}
	return &provider.ImageResult{
		Message: describe(meta.Pic, address),
		Name:    meta.Pic,
		Pic:     data,
	}, nil
}

// V2Settings are the per-provider settings of a V2 adapter.
type V2Settings struct {
	Collections []string `json:"collections"`
}

// V2 talks to servers exposing GET random-picture?collection= and GET pictures/{collection}/{pic}.
type V2 struct {
	httpClient *http.Client
}

// NewV2 creates a V2 adapter.
func NewV2(client *http.Client) *V2 {
	return &V2{httpClient: client}
}

type v2Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Collection string `json:"collection"`
		Pic        string `json:"pic"`
	} `json:"data"`
}

// FetchOne asks the server for a random picture in the configured collections and downloads it.
func (a *V2) FetchOne(ctx context.Context, address string, settings provider.Settings) (*provider.ImageResult, error) {
	var s V2Settings
	if err := settings.Decode(&s); err != nil {
		return nil, fmt.Errorf("[%s] %w", TypeV2, err)
	}

	metaURL := address + v2RandomPath + "?collection=" + url.QueryEscape(strings.Join(s.Collections, collectionSeparator))
	var resp v2Response
	err := provider.GetJSON(ctx, a.httpClient, metaURL, provider.MetadataTimeout, nil, &resp)
	if err == nil && resp.Code != v2OK {
		err = fmt.Errorf("%w: code %d", provider.ErrNetworkFailure, resp.Code)
	}
	if err != nil {
		if resp.Message != "" {
			return nil, fmt.Errorf("[%s] fetch metadata: %s: %w", TypeV2, resp.Message, err)
		}
		return nil, fmt.Errorf("[%s] fetch metadata: %w", TypeV2, err)
	}
	if resp.Data.Pic == "" {
		return nil, fmt.Errorf("[%s] %w: metadata carries no picture name", TypeV2, provider.ErrNetworkFailure)
	}

	picURL := address + v2PicturesPath + "/" + url.PathEscape(resp.Data.Collection) + "/" + url.PathEscape(resp.Data.Pic)
	log.Debugf("[%s] downloading %s", TypeV2, picURL)
	data, err := provider.GetPic(ctx, a.httpClient, picURL, provider.DownloadTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("[%s] download %s: %w", TypeV2, resp.Data.Pic, err)
	}
	return &provider.ImageResult{
		Message: describe(resp.Data.Pic, address),
		Name:    resp.Data.Pic,
		Pic:     data,
	}, nil
}

func describe(pic, address string) string {
	return fmt.Sprintf("%s 来自 %s", pic, address)
}
