package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/haptic-relay/internal/poller"
)

// Sweeper runs the abandonment sweep over a directory.
type Sweeper struct {
	interval  time.Duration
	directory *Directory
	logger    *slog.Logger
	loop      *poller.Poller
}

// NewSweeper creates an abandonment sweeper.
func NewSweeper(interval time.Duration, directory *Directory, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		interval:  interval,
		directory: directory,
		logger:    logger,
	}
	s.loop = poller.New(poller.Config{Name: "rooms", Interval: interval, Immediate: true}, s.Sweep, logger)
	return s
}

// Start begins the sweep loop. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("room sweeper started",
		"interval", s.interval,
		"abandon_after", s.directory.cfg.AbandonAfter,
	)
	return nil
}

// Stop halts the loop and waits for an in-progress sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	if err := s.loop.Stop(ctx); err != nil {
		return err
	}
	s.logger.Info("room sweeper stopped")
	return nil
}

// Sweep refreshes occupied rooms and then deletes abandoned ones. Deletion is
// skipped when the refresh fails.
func (s *Sweeper) Sweep(ctx context.Context) {
	touched, err := s.directory.TouchActiveRooms(ctx)
	if err != nil {
		s.logger.Error("failed to refresh active rooms", "error", err)
		return
	}

	removed, err := s.directory.RemoveAbandoned(ctx)
	if err != nil {
		s.logger.Error("failed to remove abandoned rooms", "error", err)
		return
	}

	if removed > 0 {
		s.logger.Info("room sweep complete", "active", touched, "removed", removed)
	} else {
		s.logger.Debug("room sweep complete", "active", touched)
	}
}
