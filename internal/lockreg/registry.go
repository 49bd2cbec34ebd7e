package lockreg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"prizedraw/internal/obs"
)

const DefaultTimeout = 30 * time.Second

// Clock is the time source used for hold-time bookkeeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// OperationLister reports in-flight async operations for diagnostics.
type OperationLister interface {
	Active() []string
}

type Config struct {
	DefaultTimeout time.Duration
	Clock          Clock
	Logger         *obs.Logger
	Metrics        *obs.Metrics
	Operations     OperationLister
}

// Registry owns one ResourceLock per resource class and is the only way to
// take them.
type Registry struct {
	locks          map[Resource]*ResourceLock
	defaultTimeout time.Duration
	clock          Clock
	logger         *obs.Logger
	metrics        *obs.Metrics
	ops            OperationLister

	acquisitions atomic.Int64
	timeouts     atomic.Int64
	contentions  atomic.Int64
	forced       atomic.Int64

	holdMu    sync.Mutex
	avgHold   float64 // ns
	holdCount int64   // completed holds folded into avgHold
}

func NewRegistry(cfg Config) *Registry {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	r := &Registry{
		locks:          make(map[Resource]*ResourceLock, len(allResources)),
		defaultTimeout: cfg.DefaultTimeout,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		ops:            cfg.Operations,
	}
	for _, name := range allResources {
		r.locks[name] = newResourceLock(name)
	}
	return r
}

func (r *Registry) DefaultTimeout() time.Duration { return r.defaultTimeout }

// Acquire takes a single resource. It is AcquireMany with one name, so the
// same ordering rules apply.
//
// Reentrancy follows the owner on ctx. A ctx without an owner gets a fresh
// one on every call, so two Acquire calls with context.Background() are two
// owners and the second waits for the first. Pass the context given to a Do
// callback, or Handle.Context, to re-enter.
func (r *Registry) Acquire(ctx context.Context, name Resource, timeout time.Duration) (*Handle, error) {
	return r.AcquireMany(ctx, []Resource{name}, timeout)
}

// AcquireMany takes every named resource in lexicographic order within one
// shared timeout budget. On failure nothing stays held.
//
// The owner comes from ctx (see WithOwner). An owner that already holds locks
// may re-enter them, but may only add resources that sort after everything it
// holds; anything else fails with ErrLockOrder instead of risking a cycle.
func (r *Registry) AcquireMany(ctx context.Context, names []Resource, timeout time.Duration) (*Handle, error) {
	ordered, err := normalize(names)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	owner, ok := OwnerFrom(ctx)
	if !ok {
		_, owner = EnsureOwner(ctx)
	}
	if err := r.checkOrder(owner, ordered); err != nil {
		r.incResult(ordered[0], "order")
		return nil, err
	}

	h := &Handle{reg: r, owner: owner}
	start := time.Now()

	fail := func(err error) (*Handle, error) {
		h.Release()
		return nil, err
	}

	for _, name := range ordered {
		lk := r.locks[name]

		gen, reentered, err := lk.reenter(owner)
		if err != nil {
			r.incResult(name, "reentrant")
			return fail(fmt.Errorf("acquire %s: %w", name, err))
		}
		if reentered {
			h.held = append(h.held, heldLock{lock: lk, gen: gen})
			continue
		}

		waitStart := time.Now()
		if !lk.tryTake() {
			r.contentions.Add(1)
			remaining := timeout - time.Since(start)
			if err := lk.take(ctx, remaining); err != nil {
				if errors.Is(err, ErrTimedOut) {
					r.timeouts.Add(1)
					r.incResult(name, "timeout")
					te := &TimeoutError{
						Resource: name,
						Holder:   lk.status(r.clock.Now()).Owner,
						Waited:   time.Since(waitStart),
						Budget:   timeout,
					}
					r.logger.Warn(map[string]interface{}{
						"op":        "lock_acquire",
						"resource":  string(name),
						"requested": resourceStrings(ordered),
						"owner":     owner,
						"holder":    te.Holder,
						"waited_ms": te.Waited.Milliseconds(),
						"budget_ms": timeout.Milliseconds(),
						"error":     "timed out",
					})
					return fail(te)
				}
				r.incResult(name, "canceled")
				return fail(fmt.Errorf("acquire %s: %w", name, err))
			}
		}

		gen = lk.markAcquired(owner, r.clock.Now())
		r.acquisitions.Add(1)
		r.incResult(name, "success")
		if r.metrics != nil {
			r.metrics.LockWaitMS.WithLabelValues(string(name)).Observe(float64(time.Since(waitStart).Milliseconds()))
			r.metrics.LocksHeld.Inc()
		}
		h.held = append(h.held, heldLock{lock: lk, gen: gen})
	}

	return h, nil
}

// Do runs fn while holding names and releases them on every exit path,
// including a panic in fn. fn receives a context carrying the owner so that
// nested acquisitions re-enter instead of blocking.
func (r *Registry) Do(ctx context.Context, names []Resource, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, _ = EnsureOwner(ctx)
	h, err := r.AcquireMany(ctx, names, timeout)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(ctx)
}

func (r *Registry) checkOrder(owner string, ordered []Resource) error {
	var highest Resource
	holding := make(map[Resource]bool, len(allResources))
	for _, name := range allResources {
		if r.locks[name].heldBy(owner) {
			holding[name] = true
			highest = name
		}
	}
	if highest == "" {
		return nil
	}
	for _, name := range ordered {
		if holding[name] {
			continue
		}
		if name < highest {
			return fmt.Errorf("%w: %s requested while holding %s", ErrLockOrder, name, highest)
		}
	}
	return nil
}

func (r *Registry) release(owner string, hl heldLock) {
	hold, freed, ok := hl.lock.release(owner, hl.gen, r.clock.Now())
	if !ok {
		r.logger.Warn(map[string]interface{}{
			"op":       "lock_release",
			"resource": string(hl.lock.name),
			"owner":    owner,
			"error":    "lock no longer owned (force-released)",
		})
		return
	}
	if !freed {
		return
	}
	r.observeHold(hold)
	if r.metrics != nil {
		r.metrics.LockHoldMS.WithLabelValues(string(hl.lock.name)).Observe(float64(hold.Milliseconds()))
		r.metrics.LocksHeld.Dec()
	}
}

// observeHold folds one hold duration into the running average:
// avg = (avg*(n-1) + hold) / n with n the number of completed holds.
// Holds still in progress and forced releases are not part of n.
func (r *Registry) observeHold(hold time.Duration) {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()

	r.holdCount++
	n := float64(r.holdCount)
	r.avgHold = (r.avgHold*(n-1) + float64(hold)) / n
}

func (r *Registry) incResult(name Resource, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.LockAcquireTotal.WithLabelValues(string(name), result).Inc()
}

// Diagnostics is a non-blocking snapshot of lock state and counters.
type Diagnostics struct {
	Locks            []LockStatus  `json:"locks"`
	ActiveHolders    int           `json:"active_holders"`
	Acquisitions     int64         `json:"acquisitions"`
	Timeouts         int64         `json:"timeouts"`
	TimeoutRate      float64       `json:"timeout_rate"`
	Contentions      int64         `json:"contentions"`
	ForcedReleases   int64         `json:"forced_releases"`
	AvgHold          time.Duration `json:"avg_hold_ns"`
	ActiveOperations []string      `json:"active_operations"`
}

func (r *Registry) Diagnostics() Diagnostics {
	now := r.clock.Now()
	d := Diagnostics{
		Locks:          make([]LockStatus, 0, len(allResources)),
		Acquisitions:   r.acquisitions.Load(),
		Timeouts:       r.timeouts.Load(),
		Contentions:    r.contentions.Load(),
		ForcedReleases: r.forced.Load(),
	}
	for _, name := range allResources {
		st := r.locks[name].status(now)
		if st.Held {
			d.ActiveHolders++
		}
		d.Locks = append(d.Locks, st)
	}
	if attempts := d.Acquisitions + d.Timeouts; attempts > 0 {
		d.TimeoutRate = float64(d.Timeouts) / float64(attempts)
	}
	r.holdMu.Lock()
	d.AvgHold = time.Duration(r.avgHold)
	r.holdMu.Unlock()

	d.ActiveOperations = []string{}
	if r.ops != nil {
		d.ActiveOperations = r.ops.Active()
	}
	return d
}

// ForceReleaseStale releases every lock held longer than maxHold and returns
// the affected resources. Operator escape hatch for holders that never
// released; each release is logged at warning level.
func (r *Registry) ForceReleaseStale(maxHold time.Duration) []Resource {
	now := r.clock.Now()
	released := []Resource{}
	for _, name := range allResources {
		prevOwner, heldFor, ok := r.locks[name].forceRelease(maxHold, now)
		if !ok {
			continue
		}
		released = append(released, name)
		r.forced.Add(1)
		if r.metrics != nil {
			r.metrics.ForcedRelease.WithLabelValues(string(name)).Inc()
			r.metrics.LocksHeld.Dec()
		}
		r.logger.Warn(map[string]interface{}{
			"op":          "force_release",
			"resource":    string(name),
			"prior_owner": prevOwner,
			"held_ms":     heldFor.Milliseconds(),
			"max_hold_ms": maxHold.Milliseconds(),
		})
	}
	return released
}

// ResetCounters zeroes the process-wide counters. Administrative use only.
func (r *Registry) ResetCounters() {
	r.holdMu.Lock()
	defer r.holdMu.Unlock()
	r.acquisitions.Store(0)
	r.timeouts.Store(0)
	r.contentions.Store(0)
	r.forced.Store(0)
	r.avgHold = 0
	r.holdCount = 0
}

func resourceStrings(names []Resource) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
