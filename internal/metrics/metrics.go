package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "haptic_relay"

var (
	ConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connections",
		Name:      "opened_total",
		Help:      "Connections registered after a successful handshake.",
	})

	ConnectionsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connections",
		Name:      "evicted_total",
		Help:      "Connections removed from the registry, by reason.",
	}, []string{"reason"})

	HandshakesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connections",
		Name:      "handshakes_rejected_total",
		Help:      "Handshakes rejected for a missing or wrong token.",
	})

	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "frames_received_total",
		Help:      "Dispatched inbound frames, by message type.",
	}, []string{"type"})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "frames_rejected_total",
		Help:      "Inbound frames that failed validation, by reason.",
	}, []string{"reason"})

	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rooms",
		Name:      "created_total",
		Help:      "Rooms created (reused rooms are not counted).",
	})

	RoomsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rooms",
		Name:      "abandoned_total",
		Help:      "Rooms deleted by the abandonment sweep.",
	})

	MessagesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "enqueued_total",
		Help:      "Queued rows written, one per recipient.",
	})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "delivered_total",
		Help:      "Queued rows delivered and deleted.",
	})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "flushes_total",
		Help:      "Flush cycles, by result.",
	}, []string{"result"})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "flush_duration_seconds",
		Help:      "Time spent in a single flush cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	TriggersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "triggers_dropped_total",
		Help:      "Notifications dropped because two flushes were already pending.",
	})
)

// Handler exposes Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterGauge registers a gauge whose value is read from fn at scrape time.
// Registering the same name twice is not an error.
func RegisterGauge(subsystem, name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)

	if err := prometheus.Register(g); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}
