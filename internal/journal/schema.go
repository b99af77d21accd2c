package journal

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS console_events (
	id          UUID PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	event       TEXT        NOT NULL,
	payload     JSONB,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS console_events_event_recorded_idx
	ON console_events (event, recorded_at DESC);
`

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}
