package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrNoEmitter is logged when Publish runs before a connection manager is attached.
var ErrNoEmitter = errors.New("no emitter attached")

// Handler receives the raw JSON payload of an inbound event.
type Handler func(payload json.RawMessage)

// Handle identifies one registration. The zero Handle never matches.
type Handle struct {
	id uuid.UUID
}

// IsZero reports whether h was never returned by Subscribe.
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

// String returns the handle id.
func (h Handle) String() string {
	return h.id.String()
}

// Emitter sends an outbound event over the live connection.
type Emitter interface {
	Emit(name string, payload any) error
}

// Stats contains dispatcher counters.
type Stats struct {
	Subscriptions int
	Dispatched    int64 // Inbound events received
	Delivered     int64 // Handler invocations
	Published     int64 // Outbound events accepted by the emitter
	PublishFailed int64
}

type subscription struct {
	handle  Handle
	handler Handler
	active  atomic.Bool
}

// Dispatcher maps event names to subscribers and relays events between them and
// the connection.
type Dispatcher struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]*subscription

	emitMu  sync.RWMutex
	emitter Emitter

	dispatched    atomic.Int64
	delivered     atomic.Int64
	published     atomic.Int64
	publishFailed atomic.Int64
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger,
		subs:   make(map[string][]*subscription),
	}
}

// SetEmitter attaches the outbound side. Passing nil detaches it.
func (d *Dispatcher) SetEmitter(e Emitter) {
	d.emitMu.Lock()
	d.emitter = e
	d.emitMu.Unlock()
}

// Subscribe registers fn for name and returns a handle for Unsubscribe.
func (d *Dispatcher) Subscribe(name string, fn Handler) Handle {
	sub := &subscription{
		handle:  Handle{id: uuid.New()},
		handler: fn,
	}
	sub.active.Store(true)

	d.mu.Lock()
	d.subs[name] = append(d.subs[name], sub)
	count := len(d.subs[name])
	d.mu.Unlock()

	d.logger.Debug("subscribed", "event", name, "handle", sub.handle, "subscribers", count)
	return sub.handle
}

// Unsubscribe removes exactly the registration identified by h. Unknown or
// already-removed handles are ignored.
func (d *Dispatcher) Unsubscribe(name string, h Handle) {
	if h.IsZero() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[name]
	for i, sub := range subs {
		if sub.handle != h {
			continue
		}
		// Stops a dispatch already iterating over the old slice.
		sub.active.Store(false)

		kept := make([]*subscription, 0, len(subs)-1)
		kept = append(kept, subs[:i]...)
		kept = append(kept, subs[i+1:]...)
		if len(kept) == 0 {
			delete(d.subs, name)
		} else {
			d.subs[name] = kept
		}
		d.logger.Debug("unsubscribed", "event", name, "handle", h)
		return
	}
}

// Subscribers returns the number of live registrations for name.
func (d *Dispatcher) Subscribers(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[name])
}

// Dispatch delivers an inbound event to every subscriber of name in registration
// order. Handlers run on the caller's goroutine, outside the registry lock, so they
// may subscribe or unsubscribe. A panicking handler is logged and skipped.
func (d *Dispatcher) Dispatch(name string, payload json.RawMessage) {
	d.dispatched.Add(1)

	d.mu.RLock()
	subs := d.subs[name]
	d.mu.RUnlock()

	if len(subs) == 0 {
		d.logger.Debug("no subscribers for event", "event", name)
		return
	}

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		d.invoke(name, sub, payload)
	}
}

func (d *Dispatcher) invoke(name string, sub *subscription, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"event", name,
				"handle", sub.handle,
				"panic", r,
			)
		}
	}()
	sub.handler(payload)
	d.delivered.Add(1)
}

// Publish forwards an outbound event to the live connection. It never queues: with
// no connection the event is dropped and false is returned.
func (d *Dispatcher) Publish(name string, payload any) bool {
	d.emitMu.RLock()
	e := d.emitter
	d.emitMu.RUnlock()

	if e == nil {
		d.publishFailed.Add(1)
		d.logger.Warn("publish dropped", "event", name, "error", ErrNoEmitter)
		return false
	}

	if err := e.Emit(name, payload); err != nil {
		d.publishFailed.Add(1)
		d.logger.Warn("publish dropped", "event", name, "error", err)
		return false
	}

	d.published.Add(1)
	return true
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	total := 0
	for _, subs := range d.subs {
		total += len(subs)
	}
	d.mu.RUnlock()

	return Stats{
		Subscriptions: total,
		Dispatched:    d.dispatched.Load(),
		Delivered:     d.delivered.Load(),
		Published:     d.published.Load(),
		PublishFailed: d.publishFailed.Load(),
	}
}
