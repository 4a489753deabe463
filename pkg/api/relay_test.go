package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newRelayServer(t *testing.T, relay *Relay) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{channel}", relay.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		relay.Close()
		server.Close()
	})
	return server
}

// recorder collects the broadcasts a client receives.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) add(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) snapshot() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func (r *recorder) waitFor(t *testing.T, n int) []Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.snapshot()) >= n
	}, 5*time.Second, 5*time.Millisecond, "expected %d messages", n)
	return r.snapshot()
}

func dialN(t *testing.T, relay *Relay, server *httptest.Server, channel string, n int) ([]*Client, []*recorder) {
	t.Helper()
	clients := make([]*Client, n)
	recorders := make([]*recorder, n)
	for i := range clients {
		c, err := Dial(context.Background(), server.URL, channel)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		rec := &recorder{}
		c.Listen(rec.add)
		clients[i] = c
		recorders[i] = rec
	}
	require.Eventually(t, func() bool {
		return relay.Members(channel) == n
	}, 5*time.Second, 5*time.Millisecond)
	return clients, recorders
}

func decodeInt(t *testing.T, raw json.RawMessage) int {
	t.Helper()
	var v int
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRelay_BroadcastToAllInOrder(t *testing.T) {
	relay := NewRelay()
	var calls sync.Map
	relay.Manage("X", func(_ context.Context, msg Message) (any, error) {
		var v int
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return nil, err
		}
		if _, loaded := calls.LoadOrStore(v, true); loaded {
			t.Errorf("handler invoked twice for %d", v)
		}
		// Earlier messages finish last.
		time.Sleep(time.Duration(4-v) * 30 * time.Millisecond)
		return v * 10, nil
	})
	server := newRelayServer(t, relay)
	clients, recorders := dialN(t, relay, server, "X", 3)

	a := clients[0]
	for v := 1; v <= 3; v++ {
		require.NoError(t, a.Emit(context.Background(), v))
	}

	for i, rec := range recorders {
		rec.waitFor(t, 3)
		time.Sleep(50 * time.Millisecond)
		msgs := rec.snapshot()
		require.Len(t, msgs, 3, "client %d receives each result exactly once", i)
		for j, msg := range msgs {
			assert.Equal(t, (j+1)*10, decodeInt(t, msg.Data), "client %d message %d", i, j)
			assert.Equal(t, uint64(j+1), msg.Seq)
			assert.Equal(t, a.ID(), msg.Origin)
			assert.Equal(t, "X", msg.Channel)
		}
	}
}

func TestRelay_DefaultHandlerBroadcastsNull(t *testing.T) {
	relay := NewRelay()
	server := newRelayServer(t, relay)
	clients, recorders := dialN(t, relay, server, "unmanaged", 2)

	require.NoError(t, clients[1].Emit(context.Background(), map[string]string{"hello": "world"}))
	for _, rec := range recorders {
		msgs := rec.waitFor(t, 1)
		assert.JSONEq(t, "null", string(msgs[0].Data))
	}
}

func TestRelay_HandlerErrorBroadcastsNothing(t *testing.T) {
	relay := NewRelay()
	relay.Manage("X", func(_ context.Context, msg Message) (any, error) {
		var v int
		_ = json.Unmarshal(msg.Data, &v)
		if v == 1 {
			return nil, errors.New("rejected")
		}
		return v, nil
	})
	server := newRelayServer(t, relay)
	clients, recorders := dialN(t, relay, server, "X", 1)

	require.NoError(t, clients[0].Emit(context.Background(), 1))
	require.NoError(t, clients[0].Emit(context.Background(), 2))

	recorders[0].waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	msgs := recorders[0].snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, decodeInt(t, msgs[0].Data))
	assert.Equal(t, uint64(1), msgs[0].Seq)
}

func TestRelay_ChannelsAreIsolated(t *testing.T) {
	relay := NewRelay()
	relay.Manage(ChannelSync, EchoHandler)
	server := newRelayServer(t, relay)
	syncClients, syncRecs := dialN(t, relay, server, ChannelSync, 1)
	_, otherRecs := dialN(t, relay, server, ChannelRefresh, 1)

	require.NoError(t, syncClients[0].Emit(context.Background(), "note"))
	msgs := syncRecs[0].waitFor(t, 1)
	assert.JSONEq(t, `"note"`, string(msgs[0].Data))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, otherRecs[0].snapshot())
}

func TestRelay_DisconnectRemovesMember(t *testing.T) {
	relay := NewRelay()
	relay.Manage("X", EchoHandler)
	server := newRelayServer(t, relay)
	clients, recorders := dialN(t, relay, server, "X", 2)

	require.NoError(t, clients[1].Close())
	require.Eventually(t, func() bool { return relay.Members("X") == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, clients[0].Emit(context.Background(), 7))
	msgs := recorders[0].waitFor(t, 1)
	assert.Equal(t, 7, decodeInt(t, msgs[0].Data))
	assert.Empty(t, recorders[1].snapshot())
	assert.ErrorIs(t, clients[1].Emit(context.Background(), 8), ErrClientClosed)
}

func TestRelay_Publish(t *testing.T) {
	relay := NewRelay()
	server := newRelayServer(t, relay)
	_, recorders := dialN(t, relay, server, ChannelRefresh, 2)

	require.NoError(t, relay.Publish(ChannelRefresh, true))
	for _, rec := range recorders {
		msgs := rec.waitFor(t, 1)
		assert.JSONEq(t, "true", string(msgs[0].Data))
		assert.Empty(t, msgs[0].Origin)
	}
	assert.NoError(t, relay.Publish("nobody-listens", 1))
}

func TestRelay_CloseDropsMembers(t *testing.T) {
	relay := NewRelay()
	server := newRelayServer(t, relay)
	clients, _ := dialN(t, relay, server, "X", 2)

	relay.Close()
	for _, c := range clients {
		select {
		case <-c.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("client still connected after Close")
		}
	}
	assert.Zero(t, relay.Members("X"))
}

func TestRelay_FullQueueDropsOnlyThatMember(t *testing.T) {
	relay := NewRelay()
	server := newRelayServer(t, relay)
	_, recorders := dialN(t, relay, server, "X", 2)

	// A member nobody reads from: its queue holds nothing, so the first
	// broadcast finds it full.
	stalled := &member{id: "stalled", send: make(chan []byte), limiter: rate.NewLimiter(rate.Inf, 0)}
	require.True(t, relay.join("X", stalled))
	require.Equal(t, 3, relay.Members("X"))

	// Fits the live members' queues even if their writers lag.
	const total = sendQueueSize
	for v := 1; v <= total; v++ {
		require.NoError(t, relay.Publish("X", v))
	}

	for i, rec := range recorders {
		msgs := rec.waitFor(t, total)
		require.Len(t, msgs, total, "client %d", i)
		for j, msg := range msgs {
			assert.Equal(t, j+1, decodeInt(t, msg.Data))
			assert.Equal(t, uint64(j+1), msg.Seq)
		}
	}
	assert.Equal(t, 2, relay.Members("X"))
	_, open := <-stalled.send
	assert.False(t, open, "dropped member's queue is closed")
}

func TestRelay_RateLimitDropsExcess(t *testing.T) {
	relay := NewRelay()
	relay.Manage("X", EchoHandler)
	server := newRelayServer(t, relay)
	clients, recorders := dialN(t, relay, server, "X", 1)

	for v := 1; v <= inboundBurst+10; v++ {
		require.NoError(t, clients[0].Emit(context.Background(), v))
	}
	recorders[0].waitFor(t, inboundBurst)
	time.Sleep(200 * time.Millisecond)

	msgs := recorders[0].snapshot()
	assert.Less(t, len(msgs), inboundBurst+10, "messages over the limit are dropped")
	for j, msg := range msgs {
		assert.Equal(t, j+1, decodeInt(t, msg.Data), "surviving messages keep their order")
	}
}

func TestRelay_SetRateLimit(t *testing.T) {
	relay := NewRelay()
	relay.Manage("X", EchoHandler)
	relay.SetRateLimit("X", rate.Inf, 0)
	server := newRelayServer(t, relay)
	clients, recorders := dialN(t, relay, server, "X", 1)

	const total = inboundBurst + 10
	for v := 1; v <= total; v++ {
		require.NoError(t, clients[0].Emit(context.Background(), v))
	}
	msgs := recorders[0].waitFor(t, total)
	assert.Len(t, msgs, total)
}

func TestRelay_CloseWhileEmitting(t *testing.T) {
	relay := NewRelay()
	relay.Manage("X", func(ctx context.Context, msg Message) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		return msg.Data, nil
	})
	relay.SetRateLimit("X", rate.Inf, 0)
	server := newRelayServer(t, relay)
	clients, _ := dialN(t, relay, server, "X", 3)

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := 0; v < 200; v++ {
				if c.Emit(context.Background(), v) != nil {
					return
				}
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	relay.Close()
	wg.Wait()

	assert.False(t, relay.join("X", &member{id: "late", send: make(chan []byte, 1)}))
	_, err := Dial(context.Background(), server.URL, "X")
	assert.Error(t, err)
	assert.Zero(t, relay.Members("X"))
}

func TestClient_MultipleListeners(t *testing.T) {
	relay := NewRelay()
	relay.Manage("X", EchoHandler)
	server := newRelayServer(t, relay)
	clients, first := dialN(t, relay, server, "X", 1)

	second := &recorder{}
	clients[0].Listen(second.add)

	require.NoError(t, clients[0].Emit(context.Background(), 5))
	for _, rec := range []*recorder{first[0], second} {
		msgs := rec.waitFor(t, 1)
		assert.Equal(t, 5, decodeInt(t, msgs[0].Data))
	}
}

func TestClient_ListenOthers(t *testing.T) {
	relay := NewRelay()
	relay.Manage(ChannelSync, EchoHandler)
	server := newRelayServer(t, relay)
	clients, _ := dialN(t, relay, server, ChannelSync, 2)

	mine, theirs := &recorder{}, &recorder{}
	clients[0].ListenOthers(mine.add)
	clients[1].ListenOthers(theirs.add)

	require.NoError(t, clients[0].Emit(context.Background(), "from A"))
	msgs := theirs.waitFor(t, 1)
	assert.JSONEq(t, `"from A"`, string(msgs[0].Data))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, mine.snapshot(), "own echo is suppressed")
}

func TestDial_RequiresChannel(t *testing.T) {
	_, err := Dial(context.Background(), "http://127.0.0.1:1", "")
	assert.Error(t, err)
}
