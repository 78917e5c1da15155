package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/haptic-relay/internal/poller"
)

// Sweeper runs the liveness sweep over a registry.
type Sweeper struct {
	cfg      SweepConfig
	registry *Registry
	logger   *slog.Logger
	loop     *poller.Poller
}

// NewSweeper creates a liveness sweeper.
func NewSweeper(cfg SweepConfig, registry *Registry, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
	s.loop = poller.New(poller.Config{Name: "liveness", Interval: cfg.Interval}, func(ctx context.Context) {
		s.Sweep(ctx)
	}, logger)
	return s
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("liveness sweeper started",
		"interval", s.cfg.Interval,
		"idle_timeout", s.cfg.IdleTimeout,
	)
	return nil
}

// Stop halts the loop and waits for an in-progress sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	if err := s.loop.Stop(ctx); err != nil {
		return err
	}
	s.logger.Info("liveness sweeper stopped")
	return nil
}

// Sweep evicts dead users and then probes the survivors. It returns the
// number of evicted users.
func (s *Sweeper) Sweep(ctx context.Context) int {
	evicted := 0
	now := s.registry.now()

	s.registry.ForEach(func(u *User) {
		if reason, dead := s.check(u, now); dead {
			s.registry.Evict(ctx, u, reason)
			evicted++
		}
	})

	probed := 0
	s.registry.ForEach(func(u *User) {
		// Flag first so a pong racing the write is never lost.
		u.awaitingPong.Store(true)
		if err := u.transport.Ping(); err != nil {
			s.logger.Debug("failed to send ping", "user_id", u.ID, "error", err)
			return
		}
		probed++
	})

	if evicted > 0 {
		s.logger.Info("liveness sweep complete", "evicted", evicted, "probed", probed)
	} else {
		s.logger.Debug("liveness sweep complete", "probed", probed)
	}
	return evicted
}

// check evaluates the eviction conditions in order.
func (s *Sweeper) check(u *User, now time.Time) (string, bool) {
	switch {
	case u.transport.Closed():
		return ReasonClosed, true
	case u.awaitingPong.Load():
		return ReasonNoPong, true
	case s.cfg.IdleTimeout > 0 && now.Sub(u.LastActiveAt()) > s.cfg.IdleTimeout:
		return ReasonIdle, true
	default:
		return "", false
	}
}
