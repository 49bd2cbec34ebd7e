package lockreg

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimedOut        = errors.New("lock acquisition timed out")
	ErrUnknownResource = errors.New("unknown resource")
	ErrNoResources     = errors.New("no resources requested")
	ErrNotReentrant    = errors.New("resource lock is not reentrant")
	ErrLockOrder       = errors.New("resource requested out of lock order")
)

// TimeoutError describes which resource could not be taken in time.
// It matches ErrTimedOut with errors.Is.
type TimeoutError struct {
	Resource Resource
	Holder   string
	Waited   time.Duration
	Budget   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock %s not acquired within %s (waited=%s holder=%s)",
		e.Resource, e.Budget, e.Waited.Round(time.Millisecond), e.Holder)
}

func (e *TimeoutError) Unwrap() error { return ErrTimedOut }
