package monitor_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"prizedraw/internal/lockreg"
	"prizedraw/internal/monitor"
	"prizedraw/internal/obs"
	"prizedraw/internal/optrack"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestSweepEvictsAndWarnsButNeverReleases(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	var buf bytes.Buffer
	logger := obs.NewLoggerTo(&buf, "info")
	metrics := obs.NewMetrics(prometheus.NewRegistry())

	tracker := optrack.New(clock, logger, metrics)
	reg := lockreg.NewRegistry(lockreg.Config{Clock: clock, Operations: tracker, Logger: logger, Metrics: metrics})
	m := monitor.New(reg, tracker, logger, metrics, monitor.Config{OpMaxAge: 30 * time.Second, HoldWarn: time.Minute})

	if _, err := tracker.Begin("draw:daily:2026-03-10", 0); err != nil {
		t.Fatalf("begin: %v", err)
	}
	h, err := reg.Acquire(lockreg.WithOwner(context.Background(), "stuck"), lockreg.Stats, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()

	rep := m.SweepOnce()
	if rep.Evicted != 0 || len(rep.LongHolds) != 0 || rep.Held != 1 {
		t.Fatalf("unexpected first sweep: %+v", rep)
	}

	clock.Advance(90 * time.Second)
	rep = m.SweepOnce()
	if rep.Evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", rep.Evicted)
	}
	if len(rep.LongHolds) != 1 || rep.LongHolds[0] != lockreg.Stats {
		t.Fatalf("expected stats long hold, got %v", rep.LongHolds)
	}
	if rep.Held != 1 {
		t.Fatalf("monitor must not release locks, held=%d", rep.Held)
	}
	if got := testutil.ToFloat64(metrics.LocksHeld); got != 1 {
		t.Fatalf("expected locks_held gauge 1, got %v", got)
	}
	if !strings.Contains(buf.String(), `"op":"long_hold"`) {
		t.Fatalf("expected long_hold warning in log:\n%s", buf.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	reg := lockreg.NewRegistry(lockreg.Config{})
	m := monitor.New(reg, optrack.New(nil, nil, nil), nil, nil, monitor.Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop after cancel")
	}
}
