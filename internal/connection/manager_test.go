package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rickgao/crm-console/internal/auth"
	"github.com/rickgao/crm-console/internal/events"
)

var testCred = auth.Credential{Token: "tok-123", UserID: "42"}

type recorded struct {
	name string
	data string
}

// recordingSink captures dispatched events.
type recordingSink struct {
	mu     sync.Mutex
	events []recorded
}

func (s *recordingSink) Dispatch(name string, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recorded{name: name, data: string(payload)})
}

func (s *recordingSink) snapshot() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.events...)
}

// hub is a mock server that tracks live connections and the rooms they join.
type hub struct {
	mu     sync.Mutex
	conns  []*websocket.Conn
	joined []string
	left   []string
	active atomic.Int32
	dials  atomic.Int32

	// onConnect runs for each accepted connection before the read loop. Returning
	// false closes the connection.
	onConnect func(n int32, conn *websocket.Conn) bool
}

func (h *hub) serve(t *testing.T) *httptest.Server {
	return mockWSServer(t, h.handle)
}

func (h *hub) handle(conn *websocket.Conn, _ *http.Request) {
	n := h.dials.Add(1)
	h.active.Add(1)
	defer h.active.Add(-1)

	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	if h.onConnect != nil && !h.onConnect(n, conn) {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		var room string
		json.Unmarshal(f.Data, &room)

		h.mu.Lock()
		switch f.Event {
		case EventJoin:
			h.joined = append(h.joined, room)
		case EventLeave:
			h.left = append(h.left, room)
		}
		h.mu.Unlock()
	}
}

// push writes a frame on the most recent connection.
func (h *hub) push(t *testing.T, name string, data string) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.conns)
	conn := h.conns[len(h.conns)-1]
	frame := fmt.Sprintf(`{"event":%q,"data":%s}`, name, data)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (h *hub) rooms() (joined, left []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.joined...), append([]string(nil), h.left...)
}

func testManagerConfig(url string) ManagerConfig {
	return ManagerConfig{
		WSURL:            url,
		DisablePolling:   true,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
		PollInterval:     10 * time.Millisecond,
		BufferSize:       100,
		Reconnect: ReconnectPolicy{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status().State == want
	}, 3*time.Second, 5*time.Millisecond, "state never reached %s (now %s)", want, m.Status().State)
}

// transitions records every status change.
type transitions struct {
	mu      sync.Mutex
	changes []StatusChange
}

func (tr *transitions) record(c StatusChange) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.changes = append(tr.changes, c)
}

func (tr *transitions) states() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]State, len(tr.changes))
	for i, c := range tr.changes {
		out[i] = c.To
	}
	return out
}

func TestManager_OpenJoinsUserRoom(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), &recordingSink{}, nil)
	defer m.Close()

	var tr transitions
	m.OnStatus(tr.record)

	m.Open(context.Background(), testCred)

	status := m.Status()
	assert.Equal(t, StateConnected, status.State)
	assert.Equal(t, TransportWebSocket, status.Transport)
	assert.True(t, m.Connected())
	assert.Equal(t, []State{StateConnecting, StateConnected}, tr.states())

	require.Eventually(t, func() bool {
		joined, _ := h.rooms()
		return len(joined) == 1 && joined[0] == "user_42"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_DeliversInWireOrder(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	sink := &recordingSink{}
	m := NewManager(testManagerConfig(wsURL(server)), sink, nil)
	defer m.Close()

	m.Open(context.Background(), testCred)
	require.Equal(t, StateConnected, m.Status().State)

	const n = 50
	for i := 0; i < n; i++ {
		h.push(t, "lead:updated", fmt.Sprintf(`{"seq":%d}`, i))
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == n
	}, 3*time.Second, 5*time.Millisecond)

	for i, ev := range sink.snapshot() {
		assert.Equal(t, "lead:updated", ev.name)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), ev.data)
	}
	assert.False(t, m.Status().LastActivity.IsZero())
	assert.EqualValues(t, n, m.Stats().Inbound)
}

func TestManager_OpenTwiceKeepsSingleConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	sink := &recordingSink{}
	m := NewManager(testManagerConfig(wsURL(server)), sink, nil)
	defer m.Shutdown(context.Background())

	m.Open(context.Background(), testCred)
	m.Open(context.Background(), testCred)

	require.Equal(t, StateConnected, m.Status().State)
	assert.EqualValues(t, 2, h.dials.Load())

	// The first connection is torn down by the second Open.
	require.Eventually(t, func() bool {
		return h.active.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.push(t, "message:received", `{"id":"m1"}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// No duplicate delivery shows up later.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)
}

func TestManager_EmitWithoutConnection(t *testing.T) {
	m := NewManager(testManagerConfig("ws://127.0.0.1:1"), &recordingSink{}, nil)

	err := m.Emit("typing:start", map[string]string{"leadId": "1"})
	assert.ErrorIs(t, err, ErrNotConnected)

	d := events.NewDispatcher(nil)
	d.SetEmitter(m)

	assert.NotPanics(t, func() {
		assert.False(t, d.Publish("typing:start", map[string]string{"leadId": "1"}))
	})
}

func TestManager_PublishThroughDispatcher(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	d := events.NewDispatcher(nil)
	m := NewManager(testManagerConfig(wsURL(server)), d, nil)
	defer m.Close()
	d.SetEmitter(m)

	m.Open(context.Background(), testCred)
	require.True(t, m.Connected())

	before := m.Status().LastActivity
	time.Sleep(2 * time.Millisecond)

	assert.True(t, d.Publish(EventJoin, "pipeline"))
	assert.True(t, m.Status().LastActivity.After(before))

	require.Eventually(t, func() bool {
		joined, _ := h.rooms()
		return len(joined) == 2 && joined[1] == "pipeline"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_CloseTwice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), &recordingSink{}, nil)

	// Closing a fresh manager is harmless.
	m.Close()
	assert.Equal(t, StateDisconnected, m.Status().State)

	m.Open(context.Background(), testCred)
	require.Equal(t, StateConnected, m.Status().State)

	var tr transitions
	m.OnStatus(tr.record)

	m.Close()
	m.Close()

	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.False(t, m.Connected())
	assert.Equal(t, []State{StateDisconnected}, tr.states())
	assert.ErrorIs(t, m.Emit("typing:stop", nil), ErrNotConnected)

	require.NoError(t, m.Shutdown(context.Background()))
	require.Eventually(t, func() bool {
		return h.active.Load() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_OpenWithoutCredential(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), &recordingSink{}, nil)
	defer m.Close()

	m.Open(context.Background(), auth.Credential{})

	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.False(t, m.Connected())
	assert.EqualValues(t, 0, h.dials.Load())
}

func TestManager_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.DisablePolling = false
	cfg.PollingURL = server.URL

	m := NewManager(cfg, &recordingSink{}, nil)
	defer m.Close()

	m.Open(context.Background(), testCred)

	status := m.Status()
	assert.Equal(t, StateError, status.State)
	assert.ErrorIs(t, status.Err, ErrHandshakeRejected)
	assert.False(t, m.Connected())
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	h := &hub{}
	h.onConnect = func(n int32, conn *websocket.Conn) bool {
		if n == 1 {
			// Wait for the room join, then drop.
			conn.ReadMessage()
			return false
		}
		return true
	}
	server := h.serve(t)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), &recordingSink{}, nil)
	defer m.Close()

	var tr transitions
	m.OnStatus(tr.record)

	m.Join("pipeline")
	m.Open(context.Background(), testCred)

	require.Eventually(t, func() bool {
		return m.Stats().Reconnects == 1 && m.Status().State == StateConnected
	}, 3*time.Second, 5*time.Millisecond)

	states := tr.states()
	assert.Contains(t, states, StateDisconnected)
	assert.Contains(t, states, StateReconnecting)
	assert.Equal(t, StateConnected, states[len(states)-1])
	assert.Equal(t, 0, m.Status().ReconnectAttempts)

	// Rooms are re-joined on the new connection.
	require.Eventually(t, func() bool {
		joined, _ := h.rooms()
		return len(joined) >= 2 && joined[len(joined)-2] == "user_42" && joined[len(joined)-1] == "pipeline"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_ReconnectExhausted(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.Reconnect.MaxAttempts = 2

	m := NewManager(cfg, &recordingSink{}, nil)
	defer m.Close()

	var tr transitions
	m.OnStatus(tr.record)

	m.Open(context.Background(), testCred)

	waitState(t, m, StateReconnectFailed)

	status := m.Status()
	assert.Equal(t, 2, status.ReconnectAttempts)
	assert.Error(t, status.Err)
	assert.EqualValues(t, 3, dials.Load())

	reconnecting := 0
	for _, s := range tr.states() {
		if s == StateReconnecting {
			reconnecting++
		}
	}
	assert.Equal(t, 2, reconnecting)

	m.Close()
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestManager_NoReconnectWhenDisabled(t *testing.T) {
	h := &hub{}
	h.onConnect = func(n int32, conn *websocket.Conn) bool {
		return n > 1
	}
	server := h.serve(t)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.Reconnect.MaxAttempts = 0

	m := NewManager(cfg, &recordingSink{}, nil)
	defer m.Close()

	m.Open(context.Background(), testCred)
	waitState(t, m, StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, h.dials.Load())
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestManager_FallsBackToPolling(t *testing.T) {
	fake := &fakePollServer{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	// The poll server has no WebSocket endpoint, so the upgrade fails with 404.
	cfg := testManagerConfig(wsURL(server) + "/socket")
	cfg.DisablePolling = false
	cfg.PollingURL = server.URL

	sink := &recordingSink{}
	m := NewManager(cfg, sink, nil)
	defer m.Close()

	m.Open(context.Background(), testCred)

	status := m.Status()
	require.Equal(t, StateConnected, status.State)
	assert.Equal(t, TransportPolling, status.Transport)

	require.Eventually(t, func() bool {
		return len(fake.sentFrames()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"event":"join","data":"user_42"}`, fake.sentFrames()[0])

	fake.queue(`{"event":"whatsapp:status","data":{"connected":true}}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "whatsapp:status", sink.snapshot()[0].name)
}

func TestManager_JoinLeave(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), &recordingSink{}, nil)
	defer m.Close()

	m.Open(context.Background(), testCred)
	require.True(t, m.Connected())

	m.Join("team_sales")
	m.Join("team_sales")
	assert.Equal(t, []string{"team_sales"}, m.Rooms())

	m.Leave("team_sales")
	m.Leave("team_sales")
	assert.Empty(t, m.Rooms())

	require.Eventually(t, func() bool {
		joined, left := h.rooms()
		return len(joined) == 2 && len(left) == 1
	}, 2*time.Second, 5*time.Millisecond)

	joined, left := h.rooms()
	assert.Equal(t, []string{"user_42", "team_sales"}, joined)
	assert.Equal(t, []string{"team_sales"}, left)
}

func TestManager_IgnoresFramesAfterClose(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	sink := &recordingSink{}
	m := NewManager(testManagerConfig(wsURL(server)), sink, nil)

	m.Open(context.Background(), testCred)
	require.True(t, m.Connected())
	m.Close()

	// The server may still manage to write before it notices the close.
	h.mu.Lock()
	conn := h.conns[0]
	h.mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"lead:created","data":{}}`))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}

func TestManager_MalformedFrame(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	sink := &recordingSink{}
	m := NewManager(testManagerConfig(wsURL(server)), sink, nil)
	defer m.Close()

	m.Open(context.Background(), testCred)
	require.True(t, m.Connected())

	h.mu.Lock()
	conn := h.conns[0]
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	h.mu.Unlock()
	h.push(t, "notification", `{"id":"n1"}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, m.Stats().BadFrames)
	assert.True(t, m.Connected())
}

func TestManager_OnStatusRemove(t *testing.T) {
	h := &hub{}
	server := h.serve(t)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), &recordingSink{}, nil)
	defer m.Close()

	var calls atomic.Int32
	remove := m.OnStatus(func(StatusChange) { calls.Add(1) })
	remove()

	m.Open(context.Background(), testCred)
	m.Close()

	assert.EqualValues(t, 0, calls.Load())
}

func TestManager_ShutdownTimeout(t *testing.T) {
	m := NewManager(testManagerConfig("ws://127.0.0.1:1"), &recordingSink{}, nil)

	// Hold a fake background goroutine open.
	m.wg.Add(1)
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestManager_OpenWhileServerDown(t *testing.T) {
	addr := freeAddr(t)

	cfg := testManagerConfig("ws://" + addr)
	cfg.Reconnect.MaxAttempts = 100
	cfg.Reconnect.MaxDelay = 10 * time.Millisecond

	m := NewManager(cfg, &recordingSink{}, nil)
	defer m.Shutdown(context.Background())

	var tr transitions
	m.OnStatus(tr.record)

	m.Open(context.Background(), testCred)

	status := m.Status()
	assert.NotEqual(t, StateError, status.State)
	assert.NotEqual(t, StateConnected, status.State)
	assert.Error(t, status.Err)

	// The server comes back on the same address.
	h := &hub{}
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	server := httptest.NewUnstartedServer(wsHandler(t, h.handle))
	server.Listener.Close()
	server.Listener = ln
	server.Start()
	defer server.Close()

	waitState(t, m, StateConnected)
	assert.EqualValues(t, 1, m.Stats().Reconnects)

	states := tr.states()
	require.GreaterOrEqual(t, len(states), 4)
	assert.Equal(t, []State{StateConnecting, StateDisconnected, StateReconnecting}, states[:3])
	assert.NotContains(t, states, StateError)

	require.Eventually(t, func() bool {
		joined, _ := h.rooms()
		return len(joined) == 1 && joined[0] == "user_42"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_OpenFailureWithoutReconnect(t *testing.T) {
	cfg := testManagerConfig("ws://" + freeAddr(t))
	cfg.Reconnect.MaxAttempts = 0

	m := NewManager(cfg, &recordingSink{}, nil)
	defer m.Close()

	m.Open(context.Background(), testCred)

	status := m.Status()
	assert.Equal(t, StateDisconnected, status.State)
	assert.Error(t, status.Err)
	assert.Zero(t, m.Stats().Reconnects)
}

func TestManager_ListenerMayCloseOnError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), &recordingSink{}, nil)

	var tr transitions
	m.OnStatus(tr.record)
	m.OnStatus(func(c StatusChange) {
		if c.To == StateError {
			m.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		m.Open(context.Background(), testCred)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Open did not return while a listener called Close")
	}

	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.Equal(t, []State{StateConnecting, StateError, StateDisconnected}, tr.states())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ListenerMayReopenAfterGivingUp(t *testing.T) {
	var up atomic.Bool
	h := &hub{}
	handler := wsHandler(t, h.handle)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.Reconnect.MaxAttempts = 1

	m := NewManager(cfg, &recordingSink{}, nil)
	defer m.Shutdown(context.Background())

	var reopened atomic.Bool
	m.OnStatus(func(c StatusChange) {
		if c.To == StateReconnectFailed && !reopened.Swap(true) {
			up.Store(true)
			m.Open(context.Background(), testCred)
		}
	})

	m.Open(context.Background(), testCred)

	waitState(t, m, StateConnected)
	assert.True(t, reopened.Load())
	assert.EqualValues(t, 2, m.Stats().Opens)
}
