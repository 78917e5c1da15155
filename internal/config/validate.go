package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Server.AuthToken == "" {
		return errors.New("server.auth_token is required")
	}
	if c.Server.MaxFrameBytes < 1 {
		return errors.New("server.max_frame_bytes must be >= 1")
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be one of postgres, memory, got %q", c.Storage.Driver)
	}

	switch c.Notifier.Driver {
	case DriverPostgres:
		if c.Storage.Driver != DriverPostgres {
			return errors.New("notifier.driver postgres requires storage.driver postgres")
		}
	case DriverRedis:
		if c.Notifier.RedisAddr == "" {
			return errors.New("notifier.redis_addr is required")
		}
	case DriverNATS:
		if c.Notifier.NATSURL == "" {
			return errors.New("notifier.nats_url is required")
		}
	case DriverLocal:
	default:
		return fmt.Errorf("notifier.driver must be one of postgres, redis, nats, local, got %q", c.Notifier.Driver)
	}

	if c.Liveness.Interval <= 0 {
		return errors.New("liveness.interval must be > 0")
	}
	if c.Liveness.IdleTimeout < c.Liveness.Interval {
		return fmt.Errorf("liveness.idle_timeout (%s) cannot be shorter than liveness.interval (%s)",
			c.Liveness.IdleTimeout, c.Liveness.Interval)
	}

	if c.Rooms.SweepInterval <= 0 {
		return errors.New("rooms.sweep_interval must be > 0")
	}
	if c.Rooms.KeyLength < 4 {
		return errors.New("rooms.key_length must be >= 4")
	}
	if c.Rooms.KeyAttempts < 1 {
		return errors.New("rooms.key_attempts must be >= 1")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
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
	if db.AcquireTimeout <= 0 {
		return fmt.Errorf("%s.acquire_timeout must be > 0", prefix)
	}
	return nil
}
