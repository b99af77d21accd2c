package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/crm-console/internal/api"
	"github.com/rickgao/crm-console/internal/model"
)

// Source is the REST surface the poller reads.
type Source interface {
	WhatsAppStatus(ctx context.Context) (*model.WhatsAppStatus, error)
	ListNotifications(ctx context.Context, opts api.ListNotificationsOptions) ([]model.Notification, error)
}

// ChangeKind identifies what a Change reports.
type ChangeKind string

const (
	ChangeWhatsAppStatus ChangeKind = "whatsapp_status"
	ChangeNotification   ChangeKind = "notification"
)

// Change is a difference between two polls. Exactly one of Status and
// Notification is set, according to Kind.
type Change struct {
	Kind         ChangeKind
	Status       *model.WhatsAppStatus
	Notification *model.Notification
	ObservedAt   time.Time
}

// Handler receives changes found by the poller.
type Handler interface {
	HandleChange(c Change)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(Change)

func (f HandlerFunc) HandleChange(c Change) {
	f(c)
}

// Config holds poller configuration.
type Config struct {
	Interval          time.Duration // Poll interval (default: 1m)
	Timeout           time.Duration // Per-request timeout (default: 10s)
	NotificationLimit int           // Unread notifications fetched per poll (default: 50)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          time.Minute,
		Timeout:           10 * time.Second,
		NotificationLimit: 50,
	}
}

// Stats contains poller counters.
type Stats struct {
	Polls   int64
	Errors  int64
	Changes int64
}

// Option configures a Poller.
type Option func(*Poller)

// WithLiveCheck makes the poller only report changes while live reports false.
// Polls still run so the baseline stays current.
func WithLiveCheck(live func() bool) Option {
	return func(p *Poller) {
		p.live = live
	}
}

// Poller periodically compares REST state against its last poll.
type Poller struct {
	cfg     Config
	src     Source
	handler Handler
	logger  *slog.Logger
	live    func() bool
	now     func() time.Time

	mu           sync.Mutex
	status       string
	statusPrimed bool
	seen         map[string]struct{}
	notesPrimed  bool
	stats        Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, src Source, handler Handler, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.NotificationLimit <= 0 {
		cfg.NotificationLimit = def.NotificationLimit
	}

	p := &Poller{
		cfg:     cfg,
		src:     src,
		handler: handler,
		logger:  logger,
		now:     time.Now,
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("catch-up poller started",
		"interval", p.cfg.Interval,
		"notification_limit", p.cfg.NotificationLimit,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("catch-up poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(p.ctx)
		}
	}
}

// pollAll fetches status and notifications concurrently. A failure of one
// fetch does not discard the other.
func (p *Poller) pollAll(ctx context.Context) {
	start := time.Now()
	report := p.live == nil || !p.live()

	var g errgroup.Group
	g.Go(func() error { return p.pollStatus(ctx, report) })
	g.Go(func() error { return p.pollNotifications(ctx, report) })
	err := g.Wait()

	p.mu.Lock()
	p.stats.Polls++
	if err != nil {
		p.stats.Errors++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("poll cycle failed", "error", err)
		return
	}
	p.logger.Debug("poll cycle complete",
		"report", report,
		"duration", time.Since(start),
	)
}

// pollStatus reports the WhatsApp session status when it changes. The first
// poll only records the baseline.
func (p *Poller) pollStatus(ctx context.Context, report bool) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	st, err := p.src.WhatsAppStatus(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	changed := p.statusPrimed && st.Status != p.status
	p.status = st.Status
	p.statusPrimed = true
	p.mu.Unlock()

	if changed && report {
		p.emit(Change{Kind: ChangeWhatsAppStatus, Status: st})
	}
	return nil
}

// pollNotifications reports unread notifications not seen on an earlier
// poll. The first poll only records the baseline.
func (p *Poller) pollNotifications(ctx context.Context, report bool) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	notes, err := p.src.ListNotifications(ctx, api.ListNotificationsOptions{
		UnreadOnly: true,
		Limit:      p.cfg.NotificationLimit,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	var fresh []model.Notification
	seen := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		seen[n.ID] = struct{}{}
		if _, ok := p.seen[n.ID]; !ok && p.notesPrimed {
			fresh = append(fresh, n)
		}
	}
	// Read notifications drop out of the unread list and never come back.
	p.seen = seen
	p.notesPrimed = true
	p.mu.Unlock()

	if !report {
		return nil
	}
	// Oldest first.
	for i := len(fresh) - 1; i >= 0; i-- {
		p.emit(Change{Kind: ChangeNotification, Notification: &fresh[i]})
	}
	return nil
}

func (p *Poller) emit(c Change) {
	c.ObservedAt = p.now()
	if p.handler != nil {
		p.handler.HandleChange(c)
	}

	p.mu.Lock()
	p.stats.Changes++
	p.mu.Unlock()
}
