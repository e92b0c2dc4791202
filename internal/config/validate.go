package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks that all required fields are set and values are valid.
// Cross-field rules are checked first, then struct tags.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Feed.Kind == "websocket" && c.Feed.URL == "" {
		return errors.New("feed.url is required when feed.kind is websocket")
	}
	if (c.Feed.KeyID == "") != (c.Feed.PrivateKeyPath == "") {
		return errors.New("feed.key_id and feed.private_key_path must be set together")
	}
	if c.Feed.HeartbeatInterval <= 0 {
		return errors.New("feed.heartbeat_interval must be > 0")
	}
	if c.Feed.CallTimeout <= 0 {
		return errors.New("feed.call_timeout must be > 0")
	}

	if c.Reconnect.Delay <= 0 {
		return errors.New("reconnect.delay must be > 0")
	}
	if c.Reconnect.Policy == "exponential" && c.Reconnect.MaxDelay < c.Reconnect.Delay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be less than reconnect.delay (%s)", c.Reconnect.MaxDelay, c.Reconnect.Delay)
	}

	if c.Limits.EventBuffer < 1 {
		return errors.New("limits.event_buffer must be >= 1")
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

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
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
