// Package optrack suppresses duplicate triggers of the same logical operation.
package optrack

import (
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"prizedraw/internal/obs"
)

const DefaultStaleAfter = 30 * time.Second

var ErrAlreadyActive = errors.New("operation already active")

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type entry struct {
	id        uint64
	startedAt time.Time
}

// Tracker is the in-memory set of active operation keys.
type Tracker struct {
	ops     *xsync.MapOf[string, entry]
	seq     atomic.Uint64
	clock   Clock
	logger  *obs.Logger
	metrics *obs.Metrics
}

func New(clock Clock, logger *obs.Logger, metrics *obs.Metrics) *Tracker {
	if clock == nil {
		clock = systemClock{}
	}
	return &Tracker{
		ops:     xsync.NewMapOf[string, entry](),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Token marks one running operation. Release clears it.
type Token struct {
	t        *Tracker
	key      string
	id       uint64
	released atomic.Bool
}

func (tok *Token) Key() string { return tok.key }

// Release clears the key unless it was evicted and restarted by someone else
// in the meantime. Safe to call more than once.
func (tok *Token) Release() {
	if tok == nil || !tok.released.CompareAndSwap(false, true) {
		return
	}
	tok.t.ops.Compute(tok.key, func(cur entry, loaded bool) (entry, bool) {
		if !loaded {
			return cur, true
		}
		return cur, cur.id == tok.id
	})
}

// Begin marks key active. A key that is already active and younger than
// staleAfter yields ErrAlreadyActive; an older one is evicted and replaced.
func (t *Tracker) Begin(key string, staleAfter time.Duration) (*Token, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := t.clock.Now()
	id := t.seq.Add(1)

	var (
		busy    bool
		evicted bool
		prevAge time.Duration
	)
	t.ops.Compute(key, func(cur entry, loaded bool) (entry, bool) {
		if loaded {
			prevAge = now.Sub(cur.startedAt)
			if prevAge < staleAfter {
				busy = true
				return cur, false
			}
			evicted = true
		}
		return entry{id: id, startedAt: now}, false
	})

	if busy {
		return nil, ErrAlreadyActive
	}
	if evicted {
		t.evicted(key, prevAge, "begin")
	}
	return &Token{t: t, key: key, id: id}, nil
}

// CleanupStale evicts every key older than maxAge and returns how many were
// removed.
func (t *Tracker) CleanupStale(maxAge time.Duration) int {
	now := t.clock.Now()
	var stale []string
	t.ops.Range(func(key string, e entry) bool {
		if now.Sub(e.startedAt) > maxAge {
			stale = append(stale, key)
		}
		return true
	})

	n := 0
	for _, key := range stale {
		var age time.Duration
		removed := false
		// re-check under Compute; the key may have been restarted since Range
		t.ops.Compute(key, func(cur entry, loaded bool) (entry, bool) {
			if !loaded {
				return cur, true
			}
			age = now.Sub(cur.startedAt)
			if age > maxAge {
				removed = true
				return cur, true
			}
			return cur, false
		})
		if removed {
			n++
			t.evicted(key, age, "cleanup")
		}
	}
	return n
}

// Active returns the sorted active keys.
func (t *Tracker) Active() []string {
	keys := make([]string, 0, t.ops.Size())
	t.ops.Range(func(key string, _ entry) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}

func (t *Tracker) evicted(key string, age time.Duration, via string) {
	if t.metrics != nil {
		t.metrics.OpsEvictedTotal.Inc()
	}
	t.logger.Warn(map[string]interface{}{
		"op":     "async_op_evict",
		"key":    key,
		"age_ms": age.Milliseconds(),
		"via":    via,
	})
}

// OperationKey joins parts with ':' e.g. OperationKey("draw", "daily", "2026-03-01").
func OperationKey(parts ...string) string {
	return strings.Join(parts, ":")
}
