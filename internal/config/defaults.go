package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "console"
	DefaultRestURL            = "http://localhost:5000/api"
	DefaultWSURL              = "ws://localhost:5000/socket"
	DefaultAPITimeout         = 30 * time.Second
	DefaultStorePath          = "console-storage.json"
	DefaultHandshakeTimeout   = 20 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPingInterval       = 25 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultConnBufferSize     = 1000
	DefaultReconnectAttempts  = 5
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 5 * time.Second
	DefaultReconnectJitter    = 0.5
	DefaultPollInterval       = 1 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 2 * time.Second
	DefaultJournalBufferSize  = 1000
	DefaultPollerInterval     = 1 * time.Minute
	DefaultPollerTimeout      = 10 * time.Second
	DefaultNotificationLimit  = 50
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *ConsoleConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}

	if c.Auth.StorePath == "" {
		c.Auth.StorePath = DefaultStorePath
	}

	// Connection defaults
	conn := &c.Connection
	if conn.HandshakeTimeout == 0 {
		conn.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}
	if conn.PingInterval == 0 {
		conn.PingInterval = DefaultPingInterval
	}
	if conn.PingTimeout == 0 {
		conn.PingTimeout = DefaultPingTimeout
	}
	if conn.BufferSize == 0 {
		conn.BufferSize = DefaultConnBufferSize
	}
	if conn.Reconnect.MaxAttempts == 0 {
		conn.Reconnect.MaxAttempts = DefaultReconnectAttempts
	}
	if conn.Reconnect.BaseDelay == 0 {
		conn.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if conn.Reconnect.MaxDelay == 0 {
		conn.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if conn.Reconnect.Jitter == nil {
		jitter := DefaultReconnectJitter
		conn.Reconnect.Jitter = &jitter
	}
	if conn.Polling.URL == "" {
		conn.Polling.URL = PollingURLFromWS(c.API.WSURL)
	}
	if conn.Polling.Interval == 0 {
		conn.Polling.Interval = DefaultPollInterval
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollerInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollerTimeout
	}
	if c.Poller.NotificationLimit == 0 {
		c.Poller.NotificationLimit = DefaultNotificationLimit
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// PollingURLFromWS maps a ws:// or wss:// endpoint to its http(s) long-polling base.
func PollingURLFromWS(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://") + "/poll"
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://") + "/poll"
	}
	return wsURL + "/poll"
}
