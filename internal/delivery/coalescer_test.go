package delivery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func stopCoalescer(t *testing.T, c *Coalescer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestCoalescer_BurstDuringFlush(t *testing.T) {
	var flushes, running, maxRunning atomic.Int32
	gate := make(chan struct{})

	c := NewCoalescer(func(ctx context.Context) (int, error) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		if flushes.Add(1) == 1 {
			<-gate
		}
		running.Add(-1)
		return 0, nil
	}, time.Millisecond, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopCoalescer(t, c)

	c.Trigger()
	waitFor(t, func() bool { return flushes.Load() == 1 })

	// Three rapid triggers while the first flush is blocked.
	c.Trigger()
	c.Trigger()
	c.Trigger()
	if c.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", c.Pending())
	}

	close(gate)
	waitFor(t, func() bool { return flushes.Load() == 3 && c.Pending() == 0 })

	// Give a dropped trigger a chance to show up as an extra flush.
	time.Sleep(50 * time.Millisecond)

	if got := flushes.Load(); got != 3 {
		t.Errorf("flushes = %d, want 3 (one running plus two coalesced)", got)
	}
	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent flushes = %d, want 1", got)
	}
}

func TestCoalescer_DelayBetweenFlushes(t *testing.T) {
	var times []time.Time
	done := make(chan struct{}, 2)

	c := NewCoalescer(func(ctx context.Context) (int, error) {
		times = append(times, time.Now())
		done <- struct{}{}
		return 0, nil
	}, 50*time.Millisecond, nil)

	c.Start(context.Background())
	defer stopCoalescer(t, c)

	c.Trigger()
	c.Trigger()
	<-done
	<-done

	if gap := times[1].Sub(times[0]); gap < 50*time.Millisecond {
		t.Errorf("gap between flushes = %v, want >= 50ms", gap)
	}
}

func TestCoalescer_FlushErrorKeepsWorkerAlive(t *testing.T) {
	var calls atomic.Int32
	c := NewCoalescer(func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("database unavailable")
		}
		return 1, nil
	}, time.Millisecond, nil)

	c.Start(context.Background())
	defer stopCoalescer(t, c)

	c.Trigger()
	waitFor(t, func() bool { return calls.Load() == 1 })
	c.Trigger()
	waitFor(t, func() bool { return calls.Load() == 2 })
}

func TestCoalescer_StopWaitsForRunningFlush(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var sawCancel atomic.Bool

	c := NewCoalescer(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		finished.Store(true)
		return 0, nil
	}, time.Millisecond, nil)

	c.Start(context.Background())
	c.Trigger()
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	stopCoalescer(t, c)

	if !finished.Load() {
		t.Error("Stop returned before the running flush finished")
	}
	if sawCancel.Load() {
		t.Error("running flush saw a cancelled context")
	}
}
