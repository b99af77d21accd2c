package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *ConsoleConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http://", "https://"); err != nil {
		return err
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws://", "wss://"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Auth.StorePath == "" {
		return errors.New("auth.store_path is required")
	}
	if c.Auth.Email != "" && c.Auth.Password == "" {
		return errors.New("auth.password is required when auth.email is set")
	}

	rc := c.Connection.Reconnect
	if rc.MaxAttempts < -1 {
		return fmt.Errorf("connection.reconnect.max_attempts must be >= -1, got %d", rc.MaxAttempts)
	}
	if rc.Jitter != nil && (*rc.Jitter < 0 || *rc.Jitter > 1) {
		return fmt.Errorf("connection.reconnect.jitter must be between 0 and 1, got %g", *rc.Jitter)
	}
	if rc.MaxDelay < rc.BaseDelay {
		return fmt.Errorf("connection.reconnect.max_delay (%s) cannot be less than base_delay (%s)", rc.MaxDelay, rc.BaseDelay)
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Poller.Enabled && c.Poller.Interval < time.Second {
		return fmt.Errorf("poller.interval must be at least 1s, got %s", c.Poller.Interval)
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", c.Health.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(field, value string, schemes ...string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	for _, s := range schemes {
		if strings.HasPrefix(value, s) {
			return nil
		}
	}
	return fmt.Errorf("%s must start with %s", field, strings.Join(schemes, " or "))
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
