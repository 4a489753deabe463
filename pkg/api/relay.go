// Package api serves the daemon's HTTP surface and the channel relay tabs talk to.
//
// The relay is lossy by contract: inbound messages over a member's rate limit
// are dropped (see SetRateLimit), and a member whose send queue is full is
// disconnected so it cannot stall the rest of its channel.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dixieflatline76/TabSpice/util/log"
)

// Reserved channel names.
const (
	ChannelRefresh = "cachePic" // ChannelRefresh asks the daemon to re-warm cachedPic; the broadcast carries the outcome
	ChannelSync    = "noteSync" // ChannelSync echoes note edits to every open tab
)

// Relay tuning
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendQueueSize  = 64
	maxMessageSize = 1 << 20
	inboundRate    = 10 // default messages per second per member
	inboundBurst   = 20
)

// Message is the envelope exchanged on a channel.
type Message struct {
	Channel string          `json:"channel"`
	Origin  string          `json:"origin,omitempty"` // id of the emitting member, empty for daemon publishes
	Seq     uint64          `json:"seq,omitempty"`    // per channel delivery order, set by the relay
	Data    json.RawMessage `json:"data"`
}

// HandlerFunc computes the value broadcast for one inbound message.
type HandlerFunc func(ctx context.Context, msg Message) (any, error)

// NoopHandler is used for channels nobody manages; it broadcasts null.
func NoopHandler(context.Context, Message) (any, error) {
	return nil, nil
}

// EchoHandler broadcasts the inbound data unchanged.
func EchoHandler(_ context.Context, msg Message) (any, error) {
	return msg.Data, nil
}

// Relay fans messages out to every member of a named channel, sender included.
type Relay struct {
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	limits   map[string]inboundLimit
	channels map[string]*channel
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// channel holds the members of one name. Broadcasts are released in ticket
// order so every member sees results in invocation order even though
// handlers run concurrently.
type channel struct {
	name string

	mu          sync.Mutex
	members     map[*member]struct{}
	nextTicket  uint64
	nextDeliver uint64
	ready       map[uint64]result
	seq         uint64
}

type inboundLimit struct {
	limit rate.Limit
	burst int
}

// result is a finished handler invocation waiting for its turn. A nil data
// means nothing is broadcast for that ticket.
type result struct {
	data   json.RawMessage
	origin string
}

type member struct {
	id      string
	channel *channel
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	gone    bool
}

// NewRelay creates a relay with no managed channels.
func NewRelay() *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		handlers: make(map[string]HandlerFunc),
		limits:   make(map[string]inboundLimit),
		channels: make(map[string]*channel),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Manage installs h as the handler of name, replacing any previous one.
func (r *Relay) Manage(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// SetRateLimit overrides the per member inbound limit of name for members
// joining afterwards. Messages above the limit are dropped with a log line.
func (r *Relay) SetRateLimit(name string, limit rate.Limit, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[name] = inboundLimit{limit: limit, burst: burst}
}

func (r *Relay) newLimiter(name string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.limits[name]; ok {
		return rate.NewLimiter(l.limit, l.burst)
	}
	return rate.NewLimiter(rate.Limit(inboundRate), inboundBurst)
}

func (r *Relay) channel(name string) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelLocked(name)
}

func (r *Relay) channelLocked(name string) *channel {
	ch, ok := r.channels[name]
	if !ok {
		ch = &channel{name: name, members: make(map[*member]struct{}), ready: make(map[uint64]result)}
		r.channels[name] = ch
	}
	return ch
}

// Members returns the number of live members of name.
func (r *Relay) Members(name string) int {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.members)
}

// ServeWS upgrades the request and joins the connection to the channel named
// by the {channel} path segment. An optional id query parameter names the member.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("channel")
	if name == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		http.Error(w, "relay closed", http.StatusServiceUnavailable)
		return
	}

	id := req.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	m := &member{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		limiter: r.newLimiter(name),
	}
	if !r.join(name, m) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closed"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Debugf("Relay: %s joined %s", id, name)

	go m.writePump()
	r.readPump(m)
}

// join adds m to the channel name unless the relay is closed. Holding r.mu
// orders the join against Close, which drops members only after marking closed.
func (r *Relay) join(name string, m *member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	ch := r.channelLocked(name)
	m.channel = ch
	ch.mu.Lock()
	ch.members[m] = struct{}{}
	ch.mu.Unlock()
	return true
}

func (r *Relay) readPump(m *member) {
	defer func() {
		m.channel.mu.Lock()
		m.channel.dropLocked(m)
		m.channel.mu.Unlock()
		m.conn.Close()
		log.Debugf("Relay: %s left %s", m.id, m.channel.name)
	}()

	m.conn.SetReadLimit(maxMessageSize)
	_ = m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		_ = m.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		if !m.limiter.Allow() {
			log.Printf("Relay: dropping message from %s on %s, rate limit exceeded", m.id, m.channel.name)
			continue
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("Relay: error parsing message from %s: %v", m.id, err)
			continue
		}
		msg.Channel = m.channel.name
		msg.Origin = m.id
		msg.Seq = 0
		r.dispatch(m.channel, msg)
	}
}

// dispatch runs the channel handler on its own goroutine and releases the
// result in arrival order.
func (r *Relay) dispatch(ch *channel, msg Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	h, ok := r.handlers[ch.name]
	if !ok {
		h = NoopHandler
	}
	r.wg.Add(1)
	r.mu.Unlock()

	ch.mu.Lock()
	ticket := ch.nextTicket
	ch.nextTicket++
	ch.mu.Unlock()

	go func() {
		defer r.wg.Done()
		payload := r.invoke(h, msg)
		ch.mu.Lock()
		defer ch.mu.Unlock()
		ch.completeLocked(ticket, payload, msg.Origin)
	}()
}

// invoke returns the encoded result, or nil when nothing should be broadcast.
func (r *Relay) invoke(h HandlerFunc, msg Message) (data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Relay: handler for %s panicked: %v", msg.Channel, rec)
			data = nil
		}
	}()

	out, err := h(r.ctx, msg)
	if err != nil {
		log.Printf("Relay: handler for %s failed: %v", msg.Channel, err)
		return nil
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		log.Printf("Relay: cannot encode result for %s: %v", msg.Channel, err)
		return nil
	}
	return encoded
}

// Publish broadcasts data on name from the relay itself.
func (r *Relay) Publish(name string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ch := r.channel(name)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ticket := ch.nextTicket
	ch.nextTicket++
	ch.completeLocked(ticket, encoded, "")
	return nil
}

func (ch *channel) completeLocked(ticket uint64, data []byte, origin string) {
	ch.ready[ticket] = result{data: data, origin: origin}

	for {
		res, ok := ch.ready[ch.nextDeliver]
		if !ok {
			return
		}
		delete(ch.ready, ch.nextDeliver)
		ch.nextDeliver++
		if res.data == nil {
			continue
		}
		ch.seq++
		frame, err := json.Marshal(Message{Channel: ch.name, Origin: res.origin, Seq: ch.seq, Data: res.data})
		if err != nil {
			log.Printf("Relay: cannot encode frame for %s: %v", ch.name, err)
			continue
		}
		ch.broadcastLocked(frame)
	}
}

func (ch *channel) broadcastLocked(frame []byte) {
	for m := range ch.members {
		select {
		case m.send <- frame:
		default:
			log.Printf("Relay: send queue of %s on %s is full, dropping member", m.id, ch.name)
			ch.dropLocked(m)
		}
	}
}

func (ch *channel) dropLocked(m *member) {
	if m.gone {
		return
	}
	m.gone = true
	delete(ch.members, m)
	close(m.send)
}

func (m *member) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		m.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-m.send:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = m.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := m.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close drops every member, cancels running handlers and waits for them.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	r.cancel()
	for _, ch := range channels {
		ch.mu.Lock()
		for m := range ch.members {
			ch.dropLocked(m)
		}
		ch.mu.Unlock()
	}
	r.wg.Wait()
}
