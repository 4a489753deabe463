package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SourceType tells where a wallpaper came from.
type SourceType string

// SourceType values
const (
	SourceCachedAPI    SourceType = "cachedApi"    // result of a configured provider
	SourceBingFallback SourceType = "bingFallback" // result of the fixed external fallback
	SourceUserDefault  SourceType = "userDefault"  // the user uploaded default picture
)

// ImageResult is the unit exchanged between adapters, the engine, the cache and tabs.
type ImageResult struct {
	Message       string     `json:"message"`                 // Human readable provenance
	Name          string     `json:"name"`                    // Source assigned identifier
	Pic           []byte     `json:"pic"`                     // Raw image bytes
	SourceType    SourceType `json:"sourceType"`              // Where the image came from
	SourceAddress string     `json:"sourceAddress,omitempty"` // Provider base address, provider results only
	Format        string     `json:"format,omitempty"`        // Decoded image format (jpeg, png, webp...)
	Width         int        `json:"width,omitempty"`
	Height        int        `json:"height,omitempty"`
	FetchedAt     time.Time  `json:"fetchedAt,omitempty"`
}

// Settings is the adapter specific, user editable settings object.
type Settings map[string]any

// Clone returns a deep copy of the settings via a JSON round trip.
func (s Settings) Clone() Settings {
	if s == nil {
		return Settings{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return Settings{}
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return Settings{}
	}
	return out
}

// Decode converts the loosely typed settings into an adapter owned struct.
func (s Settings) Decode(v any) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encode settings: %v", ErrInvalidSettings, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Adapter produces at most one ImageResult from a base address and its settings.
// Implementations issue one metadata request and, on success, one binary request.
// Errors are returned to the caller; the never-fail boundary lives in the engine.
type Adapter interface {
	FetchOne(ctx context.Context, address string, settings Settings) (*ImageResult, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, address string, settings Settings) (*ImageResult, error)

// FetchOne calls f.
func (f AdapterFunc) FetchOne(ctx context.Context, address string, settings Settings) (*ImageResult, error) {
	return f(ctx, address, settings)
}

// Error taxonomy shared by adapters and the engine.
var (
	ErrNetworkTimeout  = errors.New("network timeout")
	ErrNetworkFailure  = errors.New("network failure")
	ErrInvalidSettings = errors.New("invalid adapter settings")
	ErrInvalidImage    = errors.New("invalid image payload")
)

// Classify maps raw transport errors onto the taxonomy, leaving already classified errors alone.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNetworkTimeout), errors.Is(err, ErrNetworkFailure),
		errors.Is(err, ErrInvalidSettings), errors.Is(err, ErrInvalidImage):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
}
