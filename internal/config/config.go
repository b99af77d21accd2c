package config

import "time"

// ConsoleConfig is the root configuration for a console client instance.
type ConsoleConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Connection ConnectionConfig `yaml:"connection"`
	Events     EventsConfig     `yaml:"events"`
	Journal    JournalConfig    `yaml:"journal"`
	Poller     PollerConfig     `yaml:"poller"`
	Health     HealthConfig     `yaml:"health"`
	Log        LogConfig        `yaml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds backend endpoints.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"` // GET retries on 5xx/429; 0 disables
}

// AuthConfig holds credential persistence settings.
type AuthConfig struct {
	StorePath string `yaml:"store_path"` // JSON key/value file holding the token
	Watch     bool   `yaml:"watch"`      // Reconnect when the store file changes on disk
	Email     string `yaml:"email"`      // Optional: log in at startup when no token is stored
	Password  string `yaml:"password"`
}

// ConnectionConfig holds real-time connection settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration   `yaml:"write_timeout"`
	PingInterval     time.Duration   `yaml:"ping_interval"`
	PingTimeout      time.Duration   `yaml:"ping_timeout"`
	BufferSize       int             `yaml:"buffer_size"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
	Polling          PollingConfig   `yaml:"polling"`
}

// ReconnectConfig describes the reconnection policy.
type ReconnectConfig struct {
	Disabled    bool          `yaml:"disabled"`
	MaxAttempts int           `yaml:"max_attempts"` // -1 = unlimited
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      *float64      `yaml:"jitter"` // 0..1 randomization factor; 0 disables, unset = default
}

// PollingConfig configures the long-polling fallback transport.
type PollingConfig struct {
	Disabled bool          `yaml:"disabled"`
	URL      string        `yaml:"url"` // Derived from api.ws_url when empty
	Interval time.Duration `yaml:"interval"`
}

// EventsConfig selects which inbound events the daemon subscribes to.
type EventsConfig struct {
	Subscribe   []string `yaml:"subscribe"` // Empty = all known events
	LogPayloads bool     `yaml:"log_payloads"`
}

// JournalConfig holds the optional Postgres event archive.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PollerConfig holds the REST catch-up poller settings.
type PollerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	NotificationLimit int           `yaml:"notification_limit"`
}

// HealthConfig holds the status HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
