package config

import "time"

// Storage and notifier drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverNATS     = "nats"
	DriverLocal    = "local"
)

// Default values for optional configuration fields.
const (
	DefaultAddr            = ":3000"
	DefaultMaxFrameBytes   = 16 * 1024
	DefaultWriteTimeout    = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultStorageDriver   = DriverPostgres
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultConnLifespan    = 30 * time.Minute
	DefaultAcquireTimeout  = 10 * time.Second
	DefaultNotifyChannel   = "new_message"
	DefaultRedisAddr       = "localhost:6379"
	DefaultNATSURL         = "nats://localhost:4222"
	DefaultLivenessEvery   = 60 * time.Second
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultRoomSweepEvery  = time.Minute
	DefaultAbandonAfter    = time.Hour
	DefaultKeyLength       = 6
	DefaultKeyAttempts     = 10
	DefaultFlushDelay      = 500 * time.Millisecond
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// ApplyDefaults fills every unset optional field.
func (c *RelayConfig) ApplyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxFrameBytes == 0 {
		c.Server.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}

	applyDBDefaults(&c.Database)

	// Notifier defaults follow the storage backend
	if c.Notifier.Driver == "" {
		if c.Storage.Driver == DriverMemory {
			c.Notifier.Driver = DriverLocal
		} else {
			c.Notifier.Driver = DriverPostgres
		}
	}
	if c.Notifier.Channel == "" {
		c.Notifier.Channel = DefaultNotifyChannel
	}
	if c.Notifier.Driver == DriverRedis && c.Notifier.RedisAddr == "" {
		c.Notifier.RedisAddr = DefaultRedisAddr
	}
	if c.Notifier.Driver == DriverNATS && c.Notifier.NATSURL == "" {
		c.Notifier.NATSURL = DefaultNATSURL
	}

	// Liveness defaults
	if c.Liveness.Interval == 0 {
		c.Liveness.Interval = DefaultLivenessEvery
	}
	if c.Liveness.IdleTimeout == 0 {
		c.Liveness.IdleTimeout = DefaultIdleTimeout
	}

	// Rooms defaults
	if c.Rooms.SweepInterval == 0 {
		c.Rooms.SweepInterval = DefaultRoomSweepEvery
	}
	if c.Rooms.AbandonAfter == 0 {
		c.Rooms.AbandonAfter = DefaultAbandonAfter
	}
	if c.Rooms.KeyLength == 0 {
		c.Rooms.KeyLength = DefaultKeyLength
	}
	if c.Rooms.KeyAttempts == 0 {
		c.Rooms.KeyAttempts = DefaultKeyAttempts
	}

	if c.Delivery.FlushDelay == 0 {
		c.Delivery.FlushDelay = DefaultFlushDelay
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
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
	if db.ConnLifespan == 0 {
		db.ConnLifespan = DefaultConnLifespan
	}
	if db.AcquireTimeout == 0 {
		db.AcquireTimeout = DefaultAcquireTimeout
	}
}
