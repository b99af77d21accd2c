package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/crm-console/internal/auth"
)

// Sink receives inbound events from the live connection.
type Sink interface {
	Dispatch(name string, payload json.RawMessage)
}

// TransportFactory builds a transport of the given kind ("websocket" or "polling").
type TransportFactory func(kind string, cfg TransportConfig, logger *slog.Logger) Transport

// DefaultTransportFactory returns the gorilla WebSocket and HTTP polling transports.
func DefaultTransportFactory(kind string, cfg TransportConfig, logger *slog.Logger) Transport {
	if kind == TransportPolling {
		return NewPollingTransport(cfg, logger)
	}
	return NewWebSocketTransport(cfg, logger)
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Opens      int64
	Reconnects int64
	Drops      int64
	Inbound    int64
	Outbound   int64
	BadFrames  int64
}

type listener struct {
	id int
	fn func(StatusChange)
}

// pendingChange is a transition waiting to be delivered to the listeners
// registered when it happened.
type pendingChange struct {
	change    StatusChange
	listeners []listener
}

// Manager owns the single live connection for the current credential.
//
// Every Open/Close starts a new generation. Goroutines and transports belonging to
// an older generation are discarded as soon as they observe the bump, so inbound
// frames from a torn-down connection are never dispatched.
type Manager struct {
	cfg          ManagerConfig
	sink         Sink
	logger       *slog.Logger
	newTransport TransportFactory

	// Serializes Open and Close.
	lifeMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	genCtx    context.Context
	cancel    context.CancelFunc
	cred      auth.Credential
	live      Transport
	status    Status
	rooms     []string
	listeners []listener
	nextID    int
	stats     ManagerStats

	// Transitions queued for listeners, delivered in order by one goroutine
	// at a time and never while lifeMu is held.
	outbox   []pendingChange
	flushing bool

	wg sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTransportFactory overrides how transports are built.
func WithTransportFactory(f TransportFactory) ManagerOption {
	return func(m *Manager) {
		m.newTransport = f
	}
}

// NewManager creates a Connection Manager delivering inbound events to sink.
func NewManager(cfg ManagerConfig, sink Sink, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:          cfg,
		sink:         sink,
		logger:       logger,
		newTransport: DefaultTransportFactory,
		status: Status{
			State: StateDisconnected,
			Since: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open closes any existing connection and opens a new one authenticated with cred.
//
// Failures are not returned: they are reported to status listeners. A rejected
// credential moves the status to error; any other failure hands over to the
// reconnect policy. On return there is exactly one live connection or none.
func (m *Manager) Open(ctx context.Context, cred auth.Credential) {
	m.lifeMu.Lock()
	defer m.flush()
	defer m.lifeMu.Unlock()

	m.teardown(false)

	if !cred.Valid() {
		m.logger.Warn("open without credential, staying disconnected")
		return
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.genCtx, m.cancel = context.WithCancel(context.Background())
	genCtx := m.genCtx
	m.cred = cred
	m.stats.Opens++
	m.mu.Unlock()

	m.logger.Info("opening connection", "url", m.cfg.WSURL, "credential", cred)
	m.transition(gen, StateConnecting, func(s *Status) {
		s.Err = nil
	})

	tr, err := m.dial(ctx, cred)
	if err != nil {
		m.logger.Warn("connection failed", "error", err)
		if ctx.Err() != nil {
			m.transition(gen, StateDisconnected, func(s *Status) {
				s.Err = err
			})
			return
		}
		m.recoverFrom(genCtx, gen, cred, err)
		return
	}

	m.install(genCtx, gen, tr)
}

// Close tears down the live connection and clears all bookkeeping. Idempotent.
func (m *Manager) Close() {
	m.lifeMu.Lock()
	defer m.flush()
	defer m.lifeMu.Unlock()

	m.teardown(true)
}

// Shutdown closes the connection and waits for background goroutines to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager shutdown timed out")
		return ctx.Err()
	}
}

// teardown must be called with lifeMu held.
func (m *Manager) teardown(clearRooms bool) {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	live := m.live
	m.live = nil
	m.cred = auth.Credential{}
	if clearRooms {
		m.rooms = nil
	}

	prev := m.status
	m.status = Status{
		State: StateDisconnected,
		Since: time.Now(),
	}
	if prev.State != StateDisconnected {
		m.enqueue(StatusChange{From: prev.State, To: StateDisconnected, Status: m.status})
	}
	m.mu.Unlock()

	if live != nil {
		live.Close()
		m.logger.Info("connection closed", "transport", live.Name())
	}
}

// dial connects over WebSocket, falling back to polling when the upgrade fails
// for reasons other than a rejected credential.
func (m *Manager) dial(ctx context.Context, cred auth.Credential) (Transport, error) {
	ws := m.newTransport(TransportWebSocket, m.cfg.transportConfig(m.cfg.WSURL, cred.Token), m.logger.With("transport", TransportWebSocket))
	err := ws.Connect(ctx)
	if err == nil {
		return ws, nil
	}
	ws.Close()

	if errors.Is(err, ErrHandshakeRejected) || m.cfg.DisablePolling || m.cfg.PollingURL == "" || ctx.Err() != nil {
		return nil, err
	}

	m.logger.Info("websocket upgrade failed, falling back to polling", "error", err)

	poll := m.newTransport(TransportPolling, m.cfg.transportConfig(m.cfg.PollingURL, cred.Token), m.logger.With("transport", TransportPolling))
	if perr := poll.Connect(ctx); perr != nil {
		poll.Close()
		return nil, fmt.Errorf("websocket: %v; polling: %w", err, perr)
	}
	return poll, nil
}

// install makes tr the live connection for gen, unless gen is stale.
func (m *Manager) install(genCtx context.Context, gen uint64, tr Transport) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		tr.Close()
		return false
	}
	m.live = tr
	rooms := make([]string, 0, len(m.rooms)+1)
	if room := m.cred.Room(); room != "" {
		rooms = append(rooms, room)
	}
	rooms = append(rooms, m.rooms...)

	// Live connection and connected state are published together so a drop
	// observed by readLoop always follows the connected transition.
	prev := m.status.State
	m.status.State = StateConnected
	m.status.Since = time.Now()
	m.status.Transport = tr.Name()
	m.status.ReconnectAttempts = 0
	m.status.Err = nil
	m.enqueue(StatusChange{From: prev, To: StateConnected, Status: m.status})
	m.mu.Unlock()

	m.logger.Info("connected", "transport", tr.Name(), "rooms", rooms)

	m.wg.Add(1)
	go m.readLoop(genCtx, gen, tr)

	for _, room := range rooms {
		if err := m.sendFrame(tr, EventJoin, room); err != nil {
			m.logger.Warn("failed to join room", "room", room, "error", err)
		}
	}
	return true
}

// readLoop forwards inbound frames from tr until it drops or gen ends.
func (m *Manager) readLoop(ctx context.Context, gen uint64, tr Transport) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-tr.Errors():
			// Frames read before the failure still belong to this connection.
			for drained := false; !drained; {
				select {
				case msg := <-tr.Messages():
					m.deliver(gen, tr, msg)
				default:
					drained = true
				}
			}
			m.handleDrop(ctx, gen, tr, err)
			return

		case msg, ok := <-tr.Messages():
			if !ok {
				return
			}
			m.deliver(gen, tr, msg)
		}
	}
}

// deliver decodes one frame and hands it to the sink if tr is still live.
func (m *Manager) deliver(gen uint64, tr Transport, msg TimestampedMessage) {
	var frame Frame
	if err := json.Unmarshal(msg.Data, &frame); err != nil || frame.Event == "" {
		m.mu.Lock()
		m.stats.BadFrames++
		m.mu.Unlock()
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		return
	}

	m.mu.Lock()
	current := gen == m.gen && m.live == tr
	if current {
		m.status.LastActivity = msg.ReceivedAt
		m.stats.Inbound++
	}
	m.mu.Unlock()

	if !current {
		return
	}
	m.sink.Dispatch(frame.Event, frame.Data)
}

// handleDrop reacts to a live connection ending on its own.
func (m *Manager) handleDrop(ctx context.Context, gen uint64, tr Transport, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.live != tr {
		m.mu.Unlock()
		return
	}
	m.live = nil
	m.stats.Drops++
	cred := m.cred
	m.mu.Unlock()

	tr.Close()

	m.logger.Warn("connection lost", "transport", tr.Name(), "error", cause)
	m.recoverFrom(ctx, gen, cred, cause)
	m.flush()
}

// recoverFrom moves gen to error when the credential was rejected. Any other
// failure moves it to disconnected and starts the reconnect policy.
func (m *Manager) recoverFrom(ctx context.Context, gen uint64, cred auth.Credential, cause error) {
	if errors.Is(cause, ErrHandshakeRejected) {
		m.transition(gen, StateError, func(s *Status) {
			s.Transport = ""
			s.Err = cause
		})
		return
	}

	if !m.transition(gen, StateDisconnected, func(s *Status) {
		s.Transport = ""
		s.Err = cause
	}) {
		return
	}

	if !m.cfg.Reconnect.Enabled() {
		return
	}

	m.wg.Add(1)
	go m.reconnect(ctx, gen, cred)
}

// reconnect follows the reconnect policy until it succeeds, is exhausted, or
// gen ends.
func (m *Manager) reconnect(ctx context.Context, gen uint64, cred auth.Credential) {
	defer m.wg.Done()
	defer m.flush()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if m.cfg.Reconnect.Exhausted(attempt) {
			m.logger.Error("reconnection failed, giving up",
				"attempts", attempt-1,
				"error", lastErr,
			)
			m.transition(gen, StateReconnectFailed, func(s *Status) {
				s.Err = lastErr
			})
			return
		}

		if !m.transition(gen, StateReconnecting, func(s *Status) {
			s.ReconnectAttempts = attempt
		}) {
			return
		}
		m.flush()

		delay := m.cfg.Reconnect.Delay(attempt)
		m.logger.Info("attempting reconnection", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		tr, err := m.dial(ctx, cred)
		if err != nil {
			lastErr = err
			m.logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
			if errors.Is(err, ErrHandshakeRejected) {
				m.transition(gen, StateError, func(s *Status) {
					s.Err = err
				})
				return
			}
			continue
		}

		if m.install(ctx, gen, tr) {
			m.mu.Lock()
			m.stats.Reconnects++
			m.mu.Unlock()
		}
		return
	}
}

// Emit sends an outbound event over the live connection. It never buffers.
func (m *Manager) Emit(name string, payload any) error {
	m.mu.Lock()
	live := m.live
	m.mu.Unlock()

	if live == nil {
		return ErrNotConnected
	}
	if err := m.sendFrame(live, name, payload); err != nil {
		return err
	}

	m.mu.Lock()
	if m.live == live {
		m.status.LastActivity = time.Now()
		m.stats.Outbound++
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) sendFrame(tr Transport, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	raw, err := json.Marshal(Frame{Event: name, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", name, err)
	}
	if err := tr.Send(raw); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// Join adds room to the set joined on every connect and joins it now if connected.
func (m *Manager) Join(room string) {
	m.mu.Lock()
	for _, r := range m.rooms {
		if r == room {
			m.mu.Unlock()
			return
		}
	}
	m.rooms = append(m.rooms, room)
	live := m.live
	m.mu.Unlock()

	if live != nil {
		if err := m.sendFrame(live, EventJoin, room); err != nil {
			m.logger.Warn("failed to join room", "room", room, "error", err)
		}
	}
}

// Leave removes room and leaves it now if connected.
func (m *Manager) Leave(room string) {
	m.mu.Lock()
	found := false
	for i, r := range m.rooms {
		if r == room {
			m.rooms = append(m.rooms[:i:i], m.rooms[i+1:]...)
			found = true
			break
		}
	}
	live := m.live
	m.mu.Unlock()

	if found && live != nil {
		if err := m.sendFrame(live, EventLeave, room); err != nil {
			m.logger.Warn("failed to leave room", "room", room, "error", err)
		}
	}
}

// Rooms returns the rooms joined in addition to the per-user room.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rooms...)
}

// Status returns a snapshot of the connection bookkeeping.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live != nil
}

// Stats returns current counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// OnStatus registers fn for every status transition and returns a function that
// removes it. Listeners are called in transition order, one at a time, after the
// manager has released its locks, so they may call Open and Close. They must not
// call Shutdown.
func (m *Manager) OnStatus(fn func(StatusChange)) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// transition moves the status to state if gen is still current. It returns false
// when gen is stale.
func (m *Manager) transition(gen uint64, state State, mutate func(*Status)) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	prev := m.status.State
	if prev != state {
		m.status.Since = time.Now()
	}
	m.status.State = state
	if mutate != nil {
		mutate(&m.status)
	}
	if prev != state || state == StateReconnecting {
		m.enqueue(StatusChange{From: prev, To: state, Status: m.status})
	}
	m.mu.Unlock()
	return true
}

// enqueue must be called with mu held.
func (m *Manager) enqueue(change StatusChange) {
	if len(m.listeners) == 0 {
		return
	}
	m.outbox = append(m.outbox, pendingChange{
		change:    change,
		listeners: append([]listener(nil), m.listeners...),
	})
}

// flush delivers queued transitions. If another goroutine is already
// delivering, including a listener further up this stack, it picks up the new
// entries and flush returns at once.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()

		for _, p := range batch {
			for _, l := range p.listeners {
				l.fn(p.change)
			}
		}

		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}
