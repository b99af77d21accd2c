package events

import (
	"encoding/json"
)

// Topic binds an event name to its payload type.
type Topic[P any] struct {
	name string
}

// NewTopic declares a typed topic for name.
func NewTopic[P any](name string) Topic[P] {
	return Topic[P]{name: name}
}

// Name returns the wire event name.
func (t Topic[P]) Name() string {
	return t.name
}

// On subscribes fn to t. Payloads that fail to decode into P are logged and
// not delivered.
func On[P any](d *Dispatcher, t Topic[P], fn func(P)) Handle {
	return d.Subscribe(t.name, func(raw json.RawMessage) {
		var payload P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				d.logger.Warn("failed to decode event payload",
					"event", t.name,
					"error", err,
				)
				return
			}
		}
		fn(payload)
	})
}

// Off removes a registration made with On.
func Off[P any](d *Dispatcher, t Topic[P], h Handle) {
	d.Unsubscribe(t.name, h)
}

// Emit publishes a typed outbound event.
func Emit[P any](d *Dispatcher, t Topic[P], payload P) bool {
	return d.Publish(t.name, payload)
}
