package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register webp for DecodeConfig

	"github.com/dixieflatline76/TabSpice/util/log"
)

// Network deadlines shared by every adapter.
const (
	MetadataTimeout = 1 * time.Second // MetadataTimeout bounds the metadata lookup of an adapter
	DownloadTimeout = 5 * time.Second // DownloadTimeout bounds the binary fetch of an adapter
	MaxPicBytes     = 32 << 20        // MaxPicBytes caps a downloaded picture
)

// InstanceDeadline is the hard wall clock limit of one adapter call.
const InstanceDeadline = MetadataTimeout + DownloadTimeout

// UserAgentTransport wraps an http.RoundTripper and adds a User-Agent header.
type UserAgentTransport struct {
	http.RoundTripper
	UserAgent string
}

// RoundTrip executes a single HTTP transaction, adding the User-Agent header.
func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	clonedReq := req.Clone(req.Context())
	clonedReq.Header.Set("User-Agent", t.UserAgent)
	rt := t.RoundTripper
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(clonedReq)
}

// NewHTTPClient returns the client shared by adapters and the fallback.
// Deadlines come from the per-call contexts, not from the client.
func NewHTTPClient(userAgent string) *http.Client {
	return &http.Client{
		Transport: &UserAgentTransport{RoundTripper: http.DefaultTransport, UserAgent: userAgent},
	}
}

// GetJSON performs a GET bounded by timeout and decodes a JSON body into v.
// Non-2xx statuses are reported as ErrNetworkFailure; the decoded body is still
// filled when possible so callers can surface the remote message.
func GetJSON(ctx context.Context, client *http.Client, url string, timeout time.Duration, header http.Header, v any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrNetworkFailure, err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Classify(err)
	}
	decodeErr := json.Unmarshal(body, v)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", ErrNetworkFailure, url, resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: malformed response from %s: %v", ErrNetworkFailure, url, decodeErr)
	}
	return nil
}

// GetPic downloads an image bounded by timeout.
func GetPic(ctx context.Context, client *http.Client, url string, timeout time.Duration, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrNetworkFailure, err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrNetworkFailure, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxPicBytes))
	if err != nil {
		return nil, Classify(err)
	}
	return data, nil
}

// Inspect checks that pic is a decodable image and fills Format, Width and Height.
func (r *ImageResult) Inspect() error {
	if r == nil || len(r.Pic) == 0 {
		return fmt.Errorf("%w: empty picture", ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(r.Pic))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%w: zero sized %s image", ErrInvalidImage, format)
	}
	r.Format = format
	r.Width = cfg.Width
	r.Height = cfg.Height
	return nil
}

// Valid reports whether r carries a usable picture.
func (r *ImageResult) Valid() bool {
	return r != nil && len(r.Pic) > 0
}

// Thumbnail returns a JPEG preview of at most maxW x maxH for quick UI display.
func (r *ImageResult) Thumbnail(maxW, maxH int) ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: empty picture", ErrInvalidImage)
	}
	img, err := imaging.Decode(bytes.NewReader(r.Pic), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	thumb := imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	log.Debugf("Thumbnail for %s: %dx%d -> %dx%d", r.Name, r.Width, r.Height, thumb.Bounds().Dx(), thumb.Bounds().Dy())
	return buf.Bytes(), nil
}
