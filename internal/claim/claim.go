// Package claim provides the run claim that keeps two dispatch runs from
// sweeping the reminder table at the same time.
//
// Local guards overlapping runs inside one process (scheduler ticks, the
// manual trigger endpoint). Redis guards runs across processes and hosts.
// Neither replaces the row-level guard in the store; they keep a second run
// from doing any work at all while the first one is in flight.
package claim

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned by Acquire when another run holds the claim.
var ErrHeld = errors.New("claim held by another run")

// Release gives the claim back. It is safe to call once.
type Release func(ctx context.Context) error

// Locker hands out the run claim.
type Locker interface {
	// Acquire takes the claim without blocking. It returns ErrHeld when the
	// claim is taken.
	Acquire(ctx context.Context) (Release, error)
}

// Local is an in-process claim.
type Local struct {
	mu sync.Mutex
}

// NewLocal returns an unheld in-process claim.
func NewLocal() *Local { return &Local{} }

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrHeld
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
