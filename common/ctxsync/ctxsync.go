// Package ctxsync provides synchronization primitives that are aware of a
// context becoming done. Monitors (§4.4) need exactly this: a waiter
// blocked on enter()/drain_upto() must be abortable via interrupt(g), and
// ctxsync.CancelableCond is how the teacher corpus expresses that
// cancellable-wait-on-condition shape elsewhere in the tree.
package ctxsync

import (
	"context"
	"sync"
)

// CancelableCond behaves like sync.Cond, except Wait also returns (as
// false) when the supplied context is done, instead of blocking forever.
type CancelableCond struct {
	// L is held while observing or changing the condition.
	L sync.Locker

	closeOnBroadcast chan struct{}
}

// NewCancelableCond returns a new CancelableCond guarded by l.
func NewCancelableCond(l sync.Locker) *CancelableCond {
	return &CancelableCond{
		L:                l,
		closeOnBroadcast: make(chan struct{}),
	}
}

// Broadcast wakes all goroutines currently waiting on c. The caller must
// hold c.L.
func (c *CancelableCond) Broadcast() {
	close(c.closeOnBroadcast)
	c.closeOnBroadcast = make(chan struct{})
}

// Wait unlocks c.L, suspends the calling goroutine until Broadcast is
// called or ctx is done, then re-locks c.L before returning. It returns
// true if woken by Broadcast, false if ctx expired first. As with
// sync.Cond, callers must re-check their condition in a loop.
func (c *CancelableCond) Wait(ctx context.Context) bool {
	ch := c.closeOnBroadcast
	c.L.Unlock()
	defer c.L.Lock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}
