// Package poller implements the REST catch-up poller.
//
// The server does not replay events missed while the real-time connection
// is down. The poller:
//   - Fetches the WhatsApp session status and unread notifications on an interval
//   - Records a baseline on the first poll so only later changes are reported
//   - Reports changes to its Handler while the live connection is down
//
// Changes never enter the event dispatcher: subscribers only ever see events
// that arrived over a live connection.
package poller
