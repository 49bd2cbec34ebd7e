package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	LockAcquireTotal *prometheus.CounterVec   // resource, result=success|timeout|reentrant|order|canceled
	LockWaitMS       *prometheus.HistogramVec // resource
	LockHoldMS       *prometheus.HistogramVec // resource
	LocksHeld        prometheus.Gauge
	ForcedRelease    *prometheus.CounterVec // resource

	DrawTotal    *prometheus.CounterVec // draw_type, outcome
	ConfirmTotal *prometheus.CounterVec // draw_type, outcome
	OpLatencyMS  *prometheus.HistogramVec // op=run_draw|confirm

	OpsEvictedTotal prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		LockAcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizedraw_lock_acquire_total",
				Help: "Lock acquisition attempts by resource and result",
			},
			[]string{"resource", "result"},
		),
		LockWaitMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prizedraw_lock_wait_ms",
				Help:    "Time spent waiting for a resource lock (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1ms .. ~32s
			},
			[]string{"resource"},
		),
		LockHoldMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prizedraw_lock_hold_ms",
				Help:    "Time a resource lock was held (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16),
			},
			[]string{"resource"},
		),
		LocksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prizedraw_locks_held",
			Help: "Number of resource locks currently held",
		}),
		ForcedRelease: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizedraw_lock_forced_release_total",
				Help: "Locks released by the stale-lock escape hatch",
			},
			[]string{"resource"},
		),
		DrawTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizedraw_draw_total",
				Help: "Draw runs by draw type and outcome",
			},
			[]string{"draw_type", "outcome"},
		),
		ConfirmTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prizedraw_confirm_total",
				Help: "Payment confirmations by draw type and outcome",
			},
			[]string{"draw_type", "outcome"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prizedraw_op_latency_ms",
				Help:    "Latency of draw and confirm operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"op"},
		),
		OpsEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prizedraw_async_ops_evicted_total",
			Help: "Async operations evicted as stale",
		}),
	}

	reg.MustRegister(
		m.LockAcquireTotal,
		m.LockWaitMS,
		m.LockHoldMS,
		m.LocksHeld,
		m.ForcedRelease,
		m.DrawTotal,
		m.ConfirmTotal,
		m.OpLatencyMS,
		m.OpsEvictedTotal,
	)

	return m
}
