package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dixieflatline76/TabSpice/pkg/wallpaper"
	"github.com/dixieflatline76/TabSpice/util"
	"github.com/dixieflatline76/TabSpice/util/log"
)

// Note edits arrive in keystroke bursts, so the sync channel gets more headroom
// than the relay default.
const (
	syncRate  = 50
	syncBurst = 100
)

// Server represents the local REST/WebSocket server tabs talk to.
type Server struct {
	addr       string
	httpServer *http.Server
	mux        *http.ServeMux

	relay       *Relay
	engine      *wallpaper.Engine
	coordinator *wallpaper.Coordinator
	preferBing  *util.SafeFlag
}

// NewServer creates a server and registers the reserved channel handlers on relay.
func NewServer(addr string, engine *wallpaper.Engine, coordinator *wallpaper.Coordinator, relay *Relay) *Server {
	s := &Server{
		addr:        addr,
		mux:         http.NewServeMux(),
		relay:       relay,
		engine:      engine,
		coordinator: coordinator,
		preferBing:  util.NewSafeBool(),
	}
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	relay.Manage(ChannelRefresh, s.handleRefreshMessage)
	relay.Manage(ChannelSync, EchoHandler)
	relay.SetRateLimit(ChannelSync, rate.Limit(syncRate), syncBurst)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.enableCORS(s.handleHealth))
	s.mux.HandleFunc("/wallpaper", s.enableCORS(s.handleWallpaper))
	s.mux.HandleFunc("/wallpaper/default", s.enableCORS(s.handleDefault))
	s.mux.HandleFunc("/ws/{channel}", s.relay.ServeWS)
}

// enableCORS adds CORS headers to the handler.
func (s *Server) enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Allow extensions to access localhost
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "X-Wallpaper-Source, X-Wallpaper-Stage, X-Wallpaper-Name, X-Wallpaper-Message")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// SetPreferBing switches whether a cached fallback image beats the user default.
func (s *Server) SetPreferBing(prefer bool) {
	s.preferBing.Set(prefer)
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Relay returns the relay behind /ws.
func (s *Server) Relay() *Relay {
	return s.relay
}

// Start listens on the configured address and serves until Stop. It returns
// nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	log.Printf("Listening on %s", ln.Addr())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes every relay member and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.relay.Close()
	return s.httpServer.Shutdown(ctx)
}

// refreshAsync re-warms the cache in the background and announces the outcome on the refresh channel.
func (s *Server) refreshAsync() {
	go func() {
		ok := s.coordinator.TriggerRefresh(context.Background())
		if err := s.relay.Publish(ChannelRefresh, ok); err != nil {
			log.Printf("Failed to publish refresh outcome: %v", err)
		}
	}()
}

func (s *Server) handleRefreshMessage(ctx context.Context, _ Message) (any, error) {
	return s.coordinator.TriggerRefresh(ctx), nil
}
