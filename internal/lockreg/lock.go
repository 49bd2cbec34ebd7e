package lockreg

import (
	"context"
	"sync"
	"time"
)

// ResourceLock is a timeout-bounded exclusive lock with holder tracking.
// The one-slot channel is the lock itself; mu only guards the metadata and
// is never held while waiting.
type ResourceLock struct {
	name      Resource
	reentrant bool
	sem       chan struct{}

	mu         sync.Mutex
	owner      string
	depth      int
	acquiredAt time.Time
	gen        uint64 // bumped on every fresh acquisition and forced release
}

func newResourceLock(name Resource) *ResourceLock {
	return &ResourceLock{
		name:      name,
		reentrant: name.Reentrant(),
		sem:       make(chan struct{}, 1),
	}
}

// LockStatus is a point-in-time view of one ResourceLock.
type LockStatus struct {
	Resource   Resource      `json:"resource"`
	Reentrant  bool          `json:"reentrant"`
	Held       bool          `json:"held"`
	Owner      string        `json:"owner,omitempty"`
	Depth      int           `json:"depth,omitempty"`
	AcquiredAt time.Time     `json:"acquired_at,omitempty"`
	HeldFor    time.Duration `json:"held_for_ns,omitempty"`
}

// reenter bumps the depth when owner already holds the lock.
func (l *ResourceLock) reenter(owner string) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth == 0 || l.owner != owner {
		return 0, false, nil
	}
	if !l.reentrant {
		return 0, false, ErrNotReentrant
	}
	l.depth++
	return l.gen, true, nil
}

func (l *ResourceLock) tryTake() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *ResourceLock) take(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return ErrTimedOut
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-t.C:
		return ErrTimedOut
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ResourceLock) markAcquired(owner string, now time.Time) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.owner = owner
	l.depth = 1
	l.acquiredAt = now
	l.gen++
	return l.gen
}

// release undoes one acquisition. ok is false when the caller no longer owns
// the lock (it was force-released in the meantime). freed is true when the
// outermost acquisition was undone and the lock became available.
func (l *ResourceLock) release(owner string, gen uint64, now time.Time) (hold time.Duration, freed, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth == 0 || l.owner != owner || l.gen != gen {
		return 0, false, false
	}
	l.depth--
	if l.depth > 0 {
		return 0, false, true
	}
	hold = now.Sub(l.acquiredAt)
	l.owner = ""
	l.acquiredAt = time.Time{}
	<-l.sem
	return hold, true, true
}

// forceRelease frees the lock regardless of owner when it has been held for
// longer than maxHold.
func (l *ResourceLock) forceRelease(maxHold time.Duration, now time.Time) (prevOwner string, heldFor time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth == 0 {
		return "", 0, false
	}
	heldFor = now.Sub(l.acquiredAt)
	if heldFor <= maxHold {
		return "", 0, false
	}
	prevOwner = l.owner
	l.owner = ""
	l.depth = 0
	l.acquiredAt = time.Time{}
	l.gen++
	<-l.sem
	return prevOwner, heldFor, true
}

func (l *ResourceLock) heldBy(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth > 0 && l.owner == owner
}

func (l *ResourceLock) status(now time.Time) LockStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := LockStatus{
		Resource:  l.name,
		Reentrant: l.reentrant,
		Held:      l.depth > 0,
	}
	if st.Held {
		st.Owner = l.owner
		st.Depth = l.depth
		st.AcquiredAt = l.acquiredAt
		st.HeldFor = now.Sub(l.acquiredAt)
	}
	return st
}
