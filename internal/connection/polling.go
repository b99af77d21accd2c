package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// pollingTransport implements Transport over HTTP long-polling:
//
//	POST {base}/connect              -> {"sessionId": "..."}
//	GET  {base}/poll?sessionId=...   -> [frame, frame, ...]
//	POST {base}/send?sessionId=...   <- frame
//	POST {base}/disconnect?sessionId=...
type pollingTransport struct {
	cfg    TransportConfig
	client *http.Client
	logger *slog.Logger

	messages chan TimestampedMessage
	errors   chan error

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessionID string
	connected bool
	closed    bool
}

// NewPollingTransport creates a long-polling transport.
func NewPollingTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultTransportConfig().WriteTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultTransportConfig().PollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &pollingTransport{
		cfg:      cfg,
		client:   &http.Client{},
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name returns the transport kind.
func (t *pollingTransport) Name() string {
	return TransportPolling
}

// Connect opens a polling session.
func (t *pollingTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL+"/connect", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("connect: %s", resp.Status)
	}

	var connectResp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&connectResp); err != nil {
		return fmt.Errorf("decode connect response: %w", err)
	}
	if connectResp.SessionID == "" {
		return fmt.Errorf("connect: empty session id")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.sessionID = connectResp.SessionID
	t.connected = true
	t.mu.Unlock()

	go t.pollLoop()

	t.logger.Debug("polling session opened", "url", t.cfg.URL, "session", connectResp.SessionID)
	return nil
}

// pollLoop fetches frames until the session ends. Any failure ends the session.
func (t *pollingTransport) pollLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		frames, err := t.fetch()
		receivedAt := time.Now()
		if err != nil {
			if t.ctx.Err() == nil {
				select {
				case t.errors <- err:
				default:
				}
			}
			return
		}

		for _, data := range frames {
			select {
			case t.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
			case <-t.ctx.Done():
				return
			default:
				t.logger.Warn("message buffer full, dropping message")
			}
		}

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(t.cfg.PollInterval):
		}
	}
}

func (t *pollingTransport) fetch() ([][]byte, error) {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.sessionURL("/poll"), nil)
	if err != nil {
		return nil, err
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("poll: %s", resp.Status)
	}

	var frames []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}

	result := make([][]byte, len(frames))
	for i, f := range frames {
		result[i] = []byte(f)
	}
	return result, nil
}

// Send posts one frame.
func (t *pollingTransport) Send(data []byte) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.WriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sessionURL("/send"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send: %s - %s", resp.Status, body)
	}
	return nil
}

// Messages returns the messages channel.
func (t *pollingTransport) Messages() <-chan TimestampedMessage {
	return t.messages
}

// Errors returns the errors channel.
func (t *pollingTransport) Errors() <-chan error {
	return t.errors
}

// IsConnected returns the current connection state.
func (t *pollingTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Close ends the session. The disconnect request is best effort.
func (t *pollingTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	hadSession := t.sessionID != ""
	t.connected = false
	t.mu.Unlock()

	if hadSession {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sessionURL("/disconnect"), nil)
		if err == nil {
			t.setHeaders(req)
			if resp, err := t.client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}

	t.cancel()
	t.client.CloseIdleConnections()
	return nil
}

func (t *pollingTransport) sessionURL(path string) string {
	t.mu.Lock()
	id := t.sessionID
	t.mu.Unlock()
	return t.cfg.URL + path + "?sessionId=" + url.QueryEscape(id)
}

func (t *pollingTransport) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
}
