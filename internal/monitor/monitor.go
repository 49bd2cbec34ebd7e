package monitor

import (
	"context"
	"time"

	"prizedraw/internal/lockreg"
	"prizedraw/internal/obs"
	"prizedraw/internal/optrack"
)

// Monitor is a periodic sweeper that:
// 1) evicts async operations older than OpMaxAge
// 2) refreshes the held-locks gauge
// 3) warns about locks held longer than HoldWarn
//
// It never force-releases; that stays an operator action.
type Monitor struct {
	reg      *lockreg.Registry
	tracker  *optrack.Tracker
	logger   *obs.Logger
	metrics  *obs.Metrics
	interval time.Duration
	opMaxAge time.Duration
	holdWarn time.Duration
}

type Config struct {
	Interval time.Duration
	OpMaxAge time.Duration
	HoldWarn time.Duration
}

type SweepReport struct {
	Evicted   int
	Held      int
	LongHolds []lockreg.Resource
	ActiveOps int
	LatencyMS int64
}

func New(reg *lockreg.Registry, tracker *optrack.Tracker, logger *obs.Logger, metrics *obs.Metrics, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.OpMaxAge <= 0 {
		cfg.OpMaxAge = optrack.DefaultStaleAfter
	}
	if cfg.HoldWarn <= 0 {
		cfg.HoldWarn = 60 * time.Second
	}
	return &Monitor{
		reg:      reg,
		tracker:  tracker,
		logger:   logger,
		metrics:  metrics,
		interval: cfg.Interval,
		opMaxAge: cfg.OpMaxAge,
		holdWarn: cfg.HoldWarn,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.SweepOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.SweepOnce()
		}
	}
}

func (m *Monitor) SweepOnce() SweepReport {
	start := time.Now()
	var rep SweepReport

	if m.tracker != nil {
		rep.Evicted = m.tracker.CleanupStale(m.opMaxAge)
	}

	d := m.reg.Diagnostics()
	rep.Held = d.ActiveHolders
	rep.ActiveOps = len(d.ActiveOperations)
	if m.metrics != nil {
		m.metrics.LocksHeld.Set(float64(d.ActiveHolders))
	}

	for _, st := range d.Locks {
		if !st.Held || st.HeldFor <= m.holdWarn {
			continue
		}
		rep.LongHolds = append(rep.LongHolds, st.Resource)
		m.logger.Warn(map[string]interface{}{
			"op":       "long_hold",
			"resource": string(st.Resource),
			"owner":    st.Owner,
			"held_ms":  st.HeldFor.Milliseconds(),
			"warn_ms":  m.holdWarn.Milliseconds(),
		})
	}
	rep.LatencyMS = time.Since(start).Milliseconds()

	// only log when something happened
	if rep.Evicted > 0 || len(rep.LongHolds) > 0 {
		m.logger.Info(map[string]interface{}{
			"op":         "maintenance_sweep",
			"evicted":    rep.Evicted,
			"held":       rep.Held,
			"long_holds": len(rep.LongHolds),
			"active_ops": rep.ActiveOps,
			"latency_ms": rep.LatencyMS,
		})
	}
	return rep
}
