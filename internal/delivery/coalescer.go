package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/haptic-relay/internal/metrics"
)

// maxPendingTriggers bounds how many flushes can be requested while one runs.
const maxPendingTriggers = 2

// FlushFunc runs one flush cycle.
type FlushFunc func(ctx context.Context) (int, error)

// Coalescer serializes flushes and collapses bursts of triggers.
type Coalescer struct {
	flush    FlushFunc
	delay    time.Duration
	logger   *slog.Logger
	triggers chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoalescer creates a coalescer that runs flush and pauses delay after
// each run.
func NewCoalescer(flush FlushFunc, delay time.Duration, logger *slog.Logger) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coalescer{
		flush:    flush,
		delay:    delay,
		logger:   logger,
		triggers: make(chan struct{}, maxPendingTriggers),
	}
}

// Trigger requests a flush. It never blocks; the request is dropped when two
// are already pending.
func (c *Coalescer) Trigger() {
	select {
	case c.triggers <- struct{}{}:
	default:
		metrics.TriggersDropped.Inc()
	}
}

// Pending returns the number of queued triggers.
func (c *Coalescer) Pending() int {
	return len(c.triggers)
}

// Start begins the flush worker.
func (c *Coalescer) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("delivery coalescer started", "flush_delay", c.delay)
	return nil
}

// Stop halts the worker, letting an in-progress flush finish while ctx allows.
func (c *Coalescer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("delivery coalescer stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("delivery coalescer stop timed out")
		return ctx.Err()
	}
}

func (c *Coalescer) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.triggers:
		}

		// A started flush is not interrupted by shutdown, so rows are never
		// sent without being deleted.
		if _, err := c.flush(context.WithoutCancel(c.ctx)); err != nil {
			c.logger.Error("flush failed", "error", err)
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}
