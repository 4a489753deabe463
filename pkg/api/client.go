package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dixieflatline76/TabSpice/util/log"
)

const handshakeTimeout = 10 * time.Second

// ErrClientClosed is returned by Emit after Close or a lost connection.
var ErrClientClosed = errors.New("relay client closed")

// Client is one member of a relay channel.
type Client struct {
	id      string
	channel string
	conn    *websocket.Conn

	writeMu sync.Mutex

	mu        sync.RWMutex
	listeners []func(Message)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial joins channel on the relay served at baseURL (http, https, ws or wss).
func Dial(ctx context.Context, baseURL, channel string) (*Client, error) {
	if channel == "" {
		return nil, errors.New("channel is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay address: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	id := uuid.NewString()
	u.Path += "/ws/" + url.PathEscape(channel)
	u.RawQuery = url.Values{"id": {id}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Redacted(), err)
	}

	c := &Client{
		id:      id,
		channel: channel,
		conn:    conn,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ID returns the origin id the relay stamps on this client's messages.
func (c *Client) ID() string {
	return c.id
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Listen registers h for every broadcast on the channel, including echoes of
// this client's own emits. Listeners run on the read goroutine in delivery order.
func (c *Client) Listen(h func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, h)
}

// ListenOthers is Listen without the echoes of this client's own emits.
func (c *Client) ListenOthers(h func(Message)) {
	c.Listen(func(msg Message) {
		if msg.Origin == c.id {
			return
		}
		h(msg)
	})
}

// Emit sends data to the channel handler.
func (c *Client) Emit(ctx context.Context, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	frame, err := json.Marshal(Message{Channel: c.channel, Origin: c.id, Data: raw})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit on %s: %w", c.channel, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("Relay client %s: %v", c.id, err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("Relay client %s: error parsing message: %v", c.id, err)
			continue
		}

		c.mu.RLock()
		listeners := slices.Clone(c.listeners)
		c.mu.RUnlock()
		for _, h := range listeners {
			h(msg)
		}
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Close leaves the channel.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}
