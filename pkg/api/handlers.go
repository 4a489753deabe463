package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dixieflatline76/TabSpice/config"
	"github.com/dixieflatline76/TabSpice/pkg/provider"
	"github.com/dixieflatline76/TabSpice/pkg/wallpaper"
	"github.com/dixieflatline76/TabSpice/util/log"
)

// Thumbnail bounds of GET /wallpaper/default?thumb=1
const (
	thumbWidth  = 320
	thumbHeight = 180
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":     "running",
		"version":    config.AppVersion,
		"refreshing": s.coordinator.InProgress(),
		"refreshes":  s.coordinator.Completed(),
		"providers":  len(s.engine.Instances()),
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleWallpaper resolves a wallpaper and re-warms the cache afterwards.
func (s *Server) handleWallpaper(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	useCache, _ := strconv.ParseBool(r.URL.Query().Get("cache"))
	img, stage := s.engine.ResolveWithStage(r.Context(), wallpaper.ResolveOptions{
		UseCache:   useCache,
		PreferBing: s.preferBing.Value(),
	})
	s.refreshAsync()

	if img == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("X-Wallpaper-Stage", stage.String())
	writeImage(w, img, img.Pic)
}

// handleDefault manages the user uploaded default picture.
func (s *Server) handleDefault(w http.ResponseWriter, r *http.Request) {
	cache := s.engine.Cache()
	slot := string(wallpaper.SlotDefault)

	switch r.Method {
	case http.MethodGet:
		img, err := cache.Get(r.Context(), slot)
		if err != nil {
			log.Printf("Failed to read default picture: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if img == nil {
			http.Error(w, "No default picture", http.StatusNotFound)
			return
		}
		body := img.Pic
		if thumb, _ := strconv.ParseBool(r.URL.Query().Get("thumb")); thumb {
			body, err = img.Thumbnail(thumbWidth, thumbHeight)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			img.Format = "jpeg"
		}
		writeImage(w, img, body)

	case http.MethodPut:
		data, err := io.ReadAll(io.LimitReader(r.Body, provider.MaxPicBytes+1))
		if err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if len(data) > provider.MaxPicBytes {
			http.Error(w, "Picture too large", http.StatusRequestEntityTooLarge)
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "default"
		}
		img := &provider.ImageResult{
			Message:    name,
			Name:       name,
			Pic:        data,
			SourceType: provider.SourceUserDefault,
			FetchedAt:  time.Now(),
		}
		if err := img.Inspect(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := cache.Set(r.Context(), slot, img); err != nil {
			log.Printf("Failed to save default picture: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Printf("Default picture set to %s (%s %dx%d)", name, img.Format, img.Width, img.Height)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if _, err := cache.Remove(r.Context(), slot); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeImage(w http.ResponseWriter, img *provider.ImageResult, body []byte) {
	contentType := http.DetectContentType(body)
	if img.Format != "" {
		contentType = "image/" + img.Format
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Wallpaper-Source", string(img.SourceType))
	h.Set("X-Wallpaper-Name", url.PathEscape(img.Name))
	h.Set("X-Wallpaper-Message", url.PathEscape(img.Message))
	if img.SourceAddress != "" {
		h.Set("X-Wallpaper-Address", img.SourceAddress)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Debugf("Failed to write picture: %v", err)
	}
}
