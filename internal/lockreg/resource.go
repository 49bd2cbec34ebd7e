package lockreg

import (
	"fmt"
	"sort"
)

// Resource names one class of shared state. The set is closed: only the
// constants below are lockable.
type Resource string

const (
	Backup         Resource = "backup"
	Cache          Resource = "cache"
	History        Resource = "history"
	Participants   Resource = "participants"
	PendingWinners Resource = "pending_winners"
	Stats          Resource = "stats"
	Winners        Resource = "winners"
)

// allResources is kept in lexicographic order.
var allResources = []Resource{
	Backup,
	Cache,
	History,
	Participants,
	PendingWinners,
	Stats,
	Winners,
}

// All returns every resource class in acquisition order.
func All() []Resource {
	out := make([]Resource, len(allResources))
	copy(out, allResources)
	return out
}

// ParseResource validates a resource name coming from outside the process
// (HTTP, CLI, config).
func ParseResource(s string) (Resource, error) {
	r := Resource(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
	}
	return r, nil
}

func (r Resource) Valid() bool {
	for _, known := range allResources {
		if r == known {
			return true
		}
	}
	return false
}

// Reentrant reports whether the current holder may acquire the lock again.
// backup is strictly exclusive.
func (r Resource) Reentrant() bool { return r != Backup }

func (r Resource) String() string { return string(r) }

// normalize validates, de-duplicates and sorts a request. The sorted order
// is the single global acquisition order shared by every caller.
func normalize(names []Resource) ([]Resource, error) {
	if len(names) == 0 {
		return nil, ErrNoResources
	}
	seen := make(map[Resource]struct{}, len(names))
	out := make([]Resource, 0, len(names))
	for _, n := range names {
		if !n.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownResource, string(n))
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
