package journal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/crm-console/internal/events"
)

// fakeDB records batches and answers every insert with the configured tag.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	execs   []string
	tag     string
	err     error
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	tag := f.tag
	if tag == "" {
		tag = "INSERT 0 1"
	}
	return &fakeResults{tag: tag, err: f.err}
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.err
}

func (f *fakeDB) rows() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

type fakeResults struct {
	tag string
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag(r.tag), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func testConfig() Config {
	return Config{
		InstanceID:    "desk-1",
		BatchSize:     3,
		FlushInterval: time.Hour,
		BufferSize:    100,
	}
}

func TestWriter_RecordAndFlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(testConfig(), db, nil)
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < 3; i++ {
		w.Record("lead:created", json.RawMessage(`{"id":"1"}`))
	}

	require.Eventually(t, func() bool {
		return len(db.rows()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	row := db.rows()[0]
	assert.Contains(t, row.SQL, "INSERT INTO console_events")
	assert.Contains(t, row.SQL, "recorded_at")
	require.Len(t, row.Arguments, 5)
	assert.IsType(t, uuid.UUID{}, row.Arguments[0])
	assert.Equal(t, "desk-1", row.Arguments[1])
	assert.Equal(t, "lead:created", row.Arguments[2])
	assert.JSONEq(t, `{"id":"1"}`, string(row.Arguments[3].([]byte)))
	assert.Equal(t, fixed, row.Arguments[4])

	require.NoError(t, w.Stop(context.Background()))

	stats := w.Stats()
	assert.EqualValues(t, 3, stats.Inserts)
	assert.EqualValues(t, 1, stats.Flushes)
}

func TestWriter_RecordAtKeepsTimestamp(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(testConfig(), db, nil)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	observed := time.Date(2026, 3, 1, 9, 59, 30, 0, time.UTC)
	w.RecordAt("poller:notification", json.RawMessage(`{"id":"n7"}`), observed)
	w.Record("lead:created", json.RawMessage(`{"id":"1"}`))

	require.NoError(t, w.Stop(context.Background()))

	rows := db.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, observed, rows[0].Arguments[4])
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), rows[1].Arguments[4])
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(testConfig(), db, nil)
	require.NoError(t, w.Start(context.Background()))

	w.Record("notification", json.RawMessage(`{"id":"n1"}`))
	w.Record("notification", nil)

	require.NoError(t, w.Stop(context.Background()))

	rows := db.rows()
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].Arguments[3])
	assert.EqualValues(t, 2, w.Stats().Inserts)

	// Closed writers drop new events quietly.
	w.Record("notification", nil)
	assert.Len(t, db.rows(), 2)
}

func TestWriter_FlushInterval(t *testing.T) {
	db := &fakeDB{}
	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.FlushInterval = 20 * time.Millisecond

	w := NewWriter(cfg, db, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	w.Record("task:created", json.RawMessage(`{}`))

	require.Eventually(t, func() bool {
		return len(db.rows()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWriter_Conflicts(t *testing.T) {
	db := &fakeDB{tag: "INSERT 0 0"}
	w := NewWriter(testConfig(), db, nil)
	require.NoError(t, w.Start(context.Background()))

	w.Record("lead:updated", json.RawMessage(`{}`))
	require.NoError(t, w.Stop(context.Background()))

	stats := w.Stats()
	assert.EqualValues(t, 0, stats.Inserts)
	assert.EqualValues(t, 1, stats.Conflicts)
}

func TestWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewWriter(testConfig(), db, nil)
	require.NoError(t, w.Start(context.Background()))

	w.Record("lead:updated", json.RawMessage(`{}`))
	require.NoError(t, w.Stop(context.Background()))

	stats := w.Stats()
	assert.EqualValues(t, 1, stats.Errors)
	assert.EqualValues(t, 0, stats.Inserts)
}

func TestWriter_ParentCancelStillDrains(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(testConfig(), db, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	w.Record("message:received", json.RawMessage(`{"id":"m1"}`))
	cancel()

	require.NoError(t, w.Stop(context.Background()))
	assert.Len(t, db.rows(), 1)
}

func TestWriter_Attach(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(testConfig(), db, nil)
	require.NoError(t, w.Start(context.Background()))

	d := events.NewDispatcher(nil)
	detach := w.Attach(d, []string{"lead:created", "message:received"})

	d.Dispatch("lead:created", json.RawMessage(`{"id":"1"}`))
	d.Dispatch("message:received", json.RawMessage(`{"id":"m1"}`))
	d.Dispatch("task:created", json.RawMessage(`{"id":"t1"}`))

	detach()
	assert.Zero(t, d.Subscribers("lead:created"))
	d.Dispatch("lead:created", json.RawMessage(`{"id":"2"}`))

	require.NoError(t, w.Stop(context.Background()))

	rows := db.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "lead:created", rows[0].Arguments[2])
	assert.Equal(t, "message:received", rows[1].Arguments[2])
}

func TestWriter_RecordCopiesPayload(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(testConfig(), db, nil)

	buf := []byte(`{"id":"1"}`)
	w.Record("lead:created", buf)
	copy(buf, `{"id":"X"}`)

	require.NoError(t, w.Stop(context.Background()))

	rows := db.rows()
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"id":"1"}`, string(rows[0].Arguments[3].([]byte)))
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	require.Len(t, db.execs, 1)
	assert.True(t, strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS console_events"))

	db = &fakeDB{err: errors.New("permission denied")}
	assert.Error(t, EnsureSchema(context.Background(), db))
}

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(Config{}, &fakeDB{}, nil)
	def := DefaultConfig()
	assert.Equal(t, def.BatchSize, w.cfg.BatchSize)
	assert.Equal(t, def.FlushInterval, w.cfg.FlushInterval)
	assert.Equal(t, def.BufferSize, w.cfg.BufferSize)
	assert.Equal(t, def.InstanceID, w.cfg.InstanceID)
}
