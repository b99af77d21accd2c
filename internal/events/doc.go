// Package events implements the Event Dispatcher.
//
// The Dispatcher:
//   - Keeps an ordered list of subscribers per event name
//   - Fans each inbound event out to every subscriber of that name, in registration order
//   - Forwards outbound events to the live connection without buffering
//
// Topics bind an event name to its payload type so handlers receive decoded values.
// Delivery is at-most-once: events that arrive while disconnected are never replayed.
package events
