package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/crm-console/internal/events"
)

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config configures a Writer.
type Config struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Max queued entries; oldest are dropped beyond this
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InstanceID:    "console",
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		BufferSize:    1000,
	}
}

// Entry is one archived event. RecordedAt is when the journal captured it,
// not when the transport read it.
type Entry struct {
	ID         uuid.UUID
	Event      string
	Payload    json.RawMessage
	RecordedAt time.Time
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// Writer consumes captured events and writes them to console_events.
type Writer struct {
	cfg    Config
	db     DB
	logger *slog.Logger
	input  *Queue[Entry]

	// Batching
	batch   []Entry
	batchMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	consumed chan struct{}
	wg       sync.WaitGroup

	metrics Metrics
	now     func() time.Time
}

// NewWriter creates a new Writer.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = def.InstanceID
	}

	initial := cfg.BatchSize
	if initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}

	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  NewQueue[Entry](initial, cfg.BufferSize),
		batch:  make([]Entry, 0, cfg.BatchSize),
		now:    time.Now,
	}
}

// Attach subscribes the writer to each named event on d and returns a function
// that removes the subscriptions.
func (w *Writer) Attach(d *events.Dispatcher, names []string) (detach func()) {
	handles := make([]events.Handle, len(names))
	for i, name := range names {
		handles[i] = d.Subscribe(name, func(payload json.RawMessage) {
			w.Record(name, payload)
		})
	}

	return func() {
		for i, name := range names {
			d.Unsubscribe(name, handles[i])
		}
	}
}

// Record queues one event for archiving, stamped with the current time. It
// never blocks.
func (w *Writer) Record(name string, payload json.RawMessage) {
	w.RecordAt(name, payload, w.now())
}

// RecordAt queues one event stamped with at.
func (w *Writer) RecordAt(name string, payload json.RawMessage, at time.Time) {
	entry := Entry{
		ID:         uuid.New(),
		Event:      name,
		Payload:    append(json.RawMessage(nil), payload...),
		RecordedAt: at,
	}
	if !w.input.Push(entry) {
		w.logger.Debug("journal closed, dropping event", "event", name)
	}
}

// Start begins consuming entries and writing to the database. Inserts keep
// running after ctx is cancelled until Stop has drained the queue.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.consumed = make(chan struct{})

	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop drains queued entries, writes them and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	// Closing the queue lets consumeLoop drain what is left and exit.
	w.input.Close()

	if w.consumed != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("journal writer stop timed out", "queued", w.input.Len())
		}
	}

	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	if rest := w.input.Drain(0); len(rest) > 0 {
		w.batchMu.Lock()
		w.batch = append(w.batch, rest...)
		w.batchMu.Unlock()
	}
	w.flushWith(ctx)

	w.logger.Info("journal writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Dropped = w.input.Stats().Dropped
	return m
}

// consumeLoop moves queued entries into the pending batch.
func (w *Writer) consumeLoop() {
	defer close(w.consumed)

	for w.input.Wait() {
		for _, e := range w.input.Drain(w.cfg.BatchSize) {
			w.add(e)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushWith(w.ctx)
		}
	}
}

func (w *Writer) add(e Entry) {
	w.batchMu.Lock()
	w.batch = append(w.batch, e)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flushWith(w.ctx)
	}
}

// flushWith writes the pending batch.
func (w *Writer) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Entry, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("journal insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal entries",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Entry) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		payload := []byte(r.Payload)
		if len(payload) == 0 {
			payload = nil
		}
		batch.Queue(`
			INSERT INTO console_events (id, instance_id, event, payload, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, w.cfg.InstanceID, r.Event, payload, r.RecordedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
