package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// Eviction reasons, used for logging and metrics.
const (
	ReasonClosed   = "closed"   // Transport closed by the peer
	ReasonNoPong   = "no_pong"  // Previous liveness probe unacknowledged
	ReasonIdle     = "idle"     // No inbound frame within the idle ceiling
	ReasonReplaced = "replaced" // Same id connected again
	ReasonProtocol = "protocol" // Invalid or oversized frame, unknown type
)

// Message is an outbound {type, data} frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ErrorMessage is an outbound {error} frame.
type ErrorMessage struct {
	Error string `json:"error"`
}

// TransportConfig configures a WebSocket transport.
type TransportConfig struct {
	WriteTimeout time.Duration // Write deadline for sends and probes
	ReadLimit    int64         // Max inbound frame size accepted by the socket (0 = unlimited)
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		WriteTimeout: 5 * time.Second,
		ReadLimit:    17 * 1024,
	}
}

// SweepConfig configures the liveness sweep.
type SweepConfig struct {
	Interval    time.Duration // Time between sweeps
	IdleTimeout time.Duration // Users silent for longer are evicted
}

// DefaultSweepConfig returns sensible defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:    60 * time.Second,
		IdleTimeout: 5 * time.Minute,
	}
}
