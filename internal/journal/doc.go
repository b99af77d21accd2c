// Package journal archives inbound real-time events in PostgreSQL.
//
// Events are captured from the dispatcher, queued, and written in batches to the
// console_events table using pgx.Batch. Rows are keyed by a random UUID, so a
// replayed batch never duplicates rows.
package journal
