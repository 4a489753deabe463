package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dixieflatline76/TabSpice/pkg/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	r := &ImageResult{Name: "p", Pic: providertest.PNG(4, 3)}
	require.NoError(t, r.Inspect())
	assert.Equal(t, "png", r.Format)
	assert.Equal(t, 4, r.Width)
	assert.Equal(t, 3, r.Height)

	j := &ImageResult{Pic: providertest.JPEG(8, 8)}
	require.NoError(t, j.Inspect())
	assert.Equal(t, "jpeg", j.Format)

	bad := &ImageResult{Pic: []byte("<html>not an image</html>")}
	assert.ErrorIs(t, bad.Inspect(), ErrInvalidImage)

	empty := &ImageResult{}
	assert.ErrorIs(t, empty.Inspect(), ErrInvalidImage)

	var nilResult *ImageResult
	assert.False(t, nilResult.Valid())
}

func TestThumbnail(t *testing.T) {
	r := &ImageResult{Name: "big", Pic: providertest.PNG(64, 32)}
	thumb, err := r.Thumbnail(16, 16)
	require.NoError(t, err)

	preview := &ImageResult{Pic: thumb}
	require.NoError(t, preview.Inspect())
	assert.Equal(t, "jpeg", preview.Format)
	assert.Equal(t, 16, preview.Width)
	assert.Equal(t, 8, preview.Height)
}

func TestSettingsDecodeAndClone(t *testing.T) {
	s := Settings{"collections": []any{"a", "b"}}

	var typed struct {
		Collections []string `json:"collections"`
	}
	require.NoError(t, s.Decode(&typed))
	assert.Equal(t, []string{"a", "b"}, typed.Collections)

	c := s.Clone()
	c["collections"] = []any{"changed"}
	assert.Equal(t, []any{"a", "b"}, s["collections"], "clone must not alias the template")

	wrong := Settings{"collections": "not-a-list"}
	assert.ErrorIs(t, wrong.Decode(&typed), ErrInvalidSettings)

	assert.NotNil(t, Settings(nil).Clone())
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.ErrorIs(t, Classify(context.DeadlineExceeded), ErrNetworkTimeout)
	assert.ErrorIs(t, Classify(errors.New("boom")), ErrNetworkFailure)

	already := ErrInvalidImage
	assert.Equal(t, already, Classify(already))
}

func TestGetJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TabSpice-test", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"pic":"a.jpg"}`))
		case "/bad":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"nothing here"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`<html>`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer ts.Close()

	client := NewHTTPClient("TabSpice-test")
	ctx := context.Background()

	var ok struct {
		Pic string `json:"pic"`
	}
	require.NoError(t, GetJSON(ctx, client, ts.URL+"/ok", time.Second, nil, &ok))
	assert.Equal(t, "a.jpg", ok.Pic)

	var msg struct {
		Message string `json:"message"`
	}
	err := GetJSON(ctx, client, ts.URL+"/bad", time.Second, nil, &msg)
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, "nothing here", msg.Message, "body is decoded even on failure statuses")

	assert.ErrorIs(t, GetJSON(ctx, client, ts.URL+"/garbage", time.Second, nil, &ok), ErrNetworkFailure)
	assert.ErrorIs(t, GetJSON(ctx, client, ts.URL+"/slow", 20*time.Millisecond, nil, &ok), ErrNetworkTimeout)
}

func TestGetPic(t *testing.T) {
	pic := providertest.PNG(2, 2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		_, _ = w.Write(pic)
	}))
	defer ts.Close()

	client := NewHTTPClient("TabSpice-test")
	data, err := GetPic(context.Background(), client, ts.URL+"/pic", time.Second, http.Header{"Authorization": {"secret"}})
	require.NoError(t, err)
	assert.Equal(t, pic, data)

	_, err = GetPic(context.Background(), client, ts.URL+"/missing", time.Second, http.Header{"Authorization": {"secret"}})
	assert.ErrorIs(t, err, ErrNetworkFailure)
}
