package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PollFunc is invoked once per tick with the loop's context.
type PollFunc func(ctx context.Context)

// Config holds poller configuration.
type Config struct {
	Name      string        // Used in log lines
	Interval  time.Duration // Time between runs
	Immediate bool          // Run once as soon as the loop starts
}

// Poller periodically invokes a PollFunc.
type Poller struct {
	cfg    Config
	fn     PollFunc
	logger *slog.Logger

	runs atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, fn PollFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:    cfg,
		fn:     fn,
		logger: logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Debug("poller started", "poller", p.cfg.Name, "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("poller stopped", "poller", p.cfg.Name, "runs", p.runs.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs returns the number of completed runs.
func (p *Poller) Runs() int64 {
	return p.runs.Load()
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	if p.cfg.Immediate {
		p.poll()
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	start := time.Now()
	p.fn(p.ctx)
	p.runs.Add(1)

	if d := time.Since(start); d > p.cfg.Interval {
		p.logger.Warn("poll run outlasted its interval",
			"poller", p.cfg.Name,
			"duration", d,
			"interval", p.cfg.Interval,
		)
	}
}
