package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS carries notifications over a core NATS subject.
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATS connects to the NATS server at url.
func NewNATS(url, subject string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("notifier", "nats", "subject", subject)

	nc, err := nats.Connect(url,
		nats.Name("haptic-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATS{nc: nc, subject: subject, logger: logger}, nil
}

func (n *NATS) Notify(ctx context.Context) error {
	return n.nc.Publish(n.subject, nil)
}

func (n *NATS) Subscribe(ctx context.Context, fn func()) error {
	sub, err := n.nc.Subscribe(n.subject, func(*nats.Msg) {
		fn()
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	n.logger.Info("listening for notifications")

	<-ctx.Done()

	// Close may already have drained the connection.
	if err := sub.Unsubscribe(); err != nil &&
		!errors.Is(err, nats.ErrConnectionClosed) &&
		!errors.Is(err, nats.ErrConnectionDraining) &&
		!errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}
