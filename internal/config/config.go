package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DBConfig       `yaml:"database"`
	Notifier NotifierConfig `yaml:"notifier"`
	Liveness LivenessConfig `yaml:"liveness"`
	Rooms    RoomsConfig    `yaml:"rooms"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AuthToken       string        `yaml:"auth_token"`     // Shared secret checked at handshake and on REST calls
	MaxFrameBytes   int           `yaml:"max_frame_bytes"` // Frames above this size evict the sender
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the durable store backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
}

// DBConfig holds the PostgreSQL connection and managed pool settings.
type DBConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Name           string        `yaml:"name"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	SSLMode        string        `yaml:"ssl_mode"`
	MaxConns       int           `yaml:"max_conns"`
	ConnLifespan   time.Duration `yaml:"conn_lifespan"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// NotifierConfig selects the "new message" change-notification channel.
type NotifierConfig struct {
	Driver    string `yaml:"driver"`  // "postgres", "redis", "nats" or "local"
	Channel   string `yaml:"channel"` // LISTEN channel, Redis channel or NATS subject
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	NATSURL   string `yaml:"nats_url"`
}

// LivenessConfig holds the connection liveness sweep settings.
type LivenessConfig struct {
	Interval    time.Duration `yaml:"interval"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RoomsConfig holds room key and abandonment sweep settings.
type RoomsConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	AbandonAfter  time.Duration `yaml:"abandon_after"`
	KeyLength     int           `yaml:"key_length"`
	KeyAttempts   int           `yaml:"key_attempts"`
}

// DeliveryConfig holds delivery queue settings.
type DeliveryConfig struct {
	FlushDelay time.Duration `yaml:"flush_delay"` // Pause between coalesced flushes
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
