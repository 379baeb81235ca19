// Package userlock serializes work per user inside one process.
package userlock

import (
	"context"
	"sync"
)

// Locker hands out one lock per user id. Locks are never removed; the set
// is bounded by the number of distinct users seen by the process.
type Locker struct {
	locks sync.Map // userID -> chan struct{}
}

func New() *Locker {
	return &Locker{}
}

// Lock blocks until the user's lock is held or ctx is done. The returned
// func releases the lock.
func (l *Locker) Lock(ctx context.Context, userID string) (func(), error) {
	sem := l.forUser(userID)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Locker) forUser(userID string) chan struct{} {
	// fast path
	if v, ok := l.locks.Load(userID); ok {
		return v.(chan struct{})
	}
	actual, _ := l.locks.LoadOrStore(userID, make(chan struct{}, 1))
	return actual.(chan struct{})
}
