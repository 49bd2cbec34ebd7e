package lockreg

import (
	"context"

	"github.com/google/uuid"
)

type ownerKey struct{}

// WithOwner tags ctx with the identity used for reentrancy and lock-order
// checks. Every acquisition made with the returned context belongs to owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

func OwnerFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	o, ok := ctx.Value(ownerKey{}).(string)
	return o, ok && o != ""
}

// EnsureOwner returns ctx unchanged when it already carries an owner,
// otherwise a child context with a fresh random owner.
func EnsureOwner(ctx context.Context) (context.Context, string) {
	if o, ok := OwnerFrom(ctx); ok {
		return ctx, o
	}
	o := uuid.NewString()
	return WithOwner(ctx, o), o
}
