package lockreg

import (
	"context"
	"sync"
)

type heldLock struct {
	lock *ResourceLock
	gen  uint64
}

// Handle is proof of a successful acquisition. Release gives back every lock
// in reverse acquisition order; it is idempotent and meant to be deferred.
type Handle struct {
	reg   *Registry
	owner string
	held  []heldLock
	once  sync.Once
}

func (h *Handle) Owner() string { return h.owner }

// Context returns ctx tagged with the handle's owner. Acquisitions made with
// it re-enter the locks this handle holds.
func (h *Handle) Context(ctx context.Context) context.Context {
	return WithOwner(ctx, h.owner)
}

// Resources lists the held resources in acquisition order.
func (h *Handle) Resources() []Resource {
	out := make([]Resource, len(h.held))
	for i, hl := range h.held {
		out[i] = hl.lock.name
	}
	return out
}

func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		for i := len(h.held) - 1; i >= 0; i-- {
			h.reg.release(h.owner, h.held[i])
		}
	})
}
