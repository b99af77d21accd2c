// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns at most one live duplex connection, authenticated by a credential
//   - Prefers WebSocket and falls back to HTTP long-polling when the upgrade fails
//   - Joins the per-user room on every successful connect
//   - Routes inbound frames to the Event Dispatcher
//   - Follows an explicit ReconnectPolicy after drops and reports each attempt
//     through status notifications
package connection
