// Package monitor implements the ordered admission barriers that
// serialize/parallelize applier phases consistent with a certification
// verdict (§4.4): the local, apply and commit monitors share this single
// implementation, differing only in their admission predicate.
//
// Grounded on galera/src/write_set_wait.hpp's WriteSetWaiter/
// WriteSetWaiters: that type is keyed by (node, trx) and used to let one
// thread wake another exactly once (signal/interrupt). Monitor admission
// is keyed by g instead, so the per-entity waiter map here is keyed by
// seqno.Global rather than a (NodeID, TrxID) pair, but the
// signal/interrupt/wait shape is the same.
package monitor

import (
	"context"
	"sync"

	"github.com/codership-go/galera-cert/common/ctxsync"
	"github.com/codership-go/galera-cert/common/xerrors"
	"github.com/codership-go/galera-cert/seqno"
)

// State is the barrier state visible to an AdmitFunc.
type State struct {
	G            seqno.Global
	DependsSeqno seqno.Global
	LastEntered  seqno.Global
	LastLeft     seqno.Global
}

// AdmitFunc decides whether g may enter given the barrier's current
// state. It is re-evaluated every time the barrier's state changes.
type AdmitFunc func(s State) bool

// LocalAdmit and CommitAdmit serialize strictly on g (§4.4: "g ==
// last_entered+1").
func LocalAdmit(s State) bool  { return s.G == s.LastEntered+1 }
func CommitAdmit(s State) bool { return s.G == s.LastEntered+1 }

// ApplyAdmit admits in parallel subject to the write-set's
// depends_seqno (§4.4: "depends_seqno <= last_left").
func ApplyAdmit(s State) bool { return s.DependsSeqno <= s.LastLeft }

// Barrier is one ordered admission barrier. The zero value is not
// usable; construct with New.
type Barrier struct {
	admit AdmitFunc

	mu          sync.Mutex
	cond        *ctxsync.CancelableCond
	lastEntered seqno.Global
	lastLeft    seqno.Global
	left        map[seqno.Global]bool // out-of-order completions not yet folded into lastLeft
	interrupted map[seqno.Global]bool
}

// New creates a Barrier with the given admission predicate and the
// initial last-entered/last-left position (typically seqno.None, or the
// view's starting g on (re)join).
func New(admit AdmitFunc, initial seqno.Global) *Barrier {
	b := &Barrier{
		admit:       admit,
		lastEntered: initial,
		lastLeft:    initial,
		left:        make(map[seqno.Global]bool),
		interrupted: make(map[seqno.Global]bool),
	}
	b.cond = ctxsync.NewCancelableCond(&b.mu)
	return b
}

// Enter blocks until g's admission condition holds, g is interrupted, or
// ctx is done. Returns cancelled=true if g was interrupted rather than
// admitted.
func (b *Barrier) Enter(ctx context.Context, g, dependsSeqno seqno.Global) (cancelled bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.interrupted[g] {
			delete(b.interrupted, g)
			return true, nil
		}
		s := State{G: g, DependsSeqno: dependsSeqno, LastEntered: b.lastEntered, LastLeft: b.lastLeft}
		if b.admit(s) {
			if g > b.lastEntered {
				b.lastEntered = g
			}
			return false, nil
		}
		if !b.cond.Wait(ctx) {
			return false, xerrors.WithContext(xerrors.ErrInterrupted, "monitor: enter cancelled by context")
		}
	}
}

// Leave records g as having completed this barrier and advances
// last_left over the longest contiguous run of completions now
// available, waking waiters whose condition may now hold. last_left is
// the highest g such that every g' <= g has left, and is monotonic -
// entries may leave out of order relative to other concurrently-entered
// g's, so a leave that isn't next in line is parked in the pending set
// until its predecessors leave too.
func (b *Barrier) Leave(g seqno.Global) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markLeft(g)
}

// SelfCancel leaves g without having entered, used for a transaction
// rolled back before it reached this barrier (§4.4), so that last_entered
// and last_left still advance contiguously.
func (b *Barrier) SelfCancel(g seqno.Global) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.interrupted, g)
	if g > b.lastEntered {
		b.lastEntered = g
	}
	b.markLeft(g)
}

func (b *Barrier) markLeft(g seqno.Global) {
	if g <= b.lastLeft {
		return
	}
	b.left[g] = true
	for b.left[b.lastLeft+1] {
		b.lastLeft++
		delete(b.left, b.lastLeft)
	}
	b.cond.Broadcast()
}

// Interrupt wakes a waiter blocked in Enter(g) with a cancelled outcome.
// If no one is currently waiting on g, the interrupt is recorded and
// consumed by the next Enter(g) call instead (mirrors
// WriteSetWaiter::interrupt being safe to call before wait()).
func (b *Barrier) Interrupt(g seqno.Global) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interrupted[g] = true
	b.cond.Broadcast()
}

// DrainUpto blocks until last_left >= g or ctx is done.
func (b *Barrier) DrainUpto(ctx context.Context, g seqno.Global) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.lastLeft < g {
		if !b.cond.Wait(ctx) {
			return xerrors.WithContext(xerrors.ErrInterrupted, "monitor: drain_upto cancelled by context")
		}
	}
	return nil
}

// LastEntered returns the highest g admitted so far.
func (b *Barrier) LastEntered() seqno.Global {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEntered
}

// LastLeft returns the highest g for which Leave/SelfCancel has
// completed contiguously.
func (b *Barrier) LastLeft() seqno.Global {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLeft
}

// Set bundles the three cooperating barriers a write-set passes through
// in order (§4.4).
type Set struct {
	Local  *Barrier
	Apply  *Barrier
	Commit *Barrier
}

// NewSet constructs the three monitors sharing the same initial
// position, as they do on (re)join to a view at seqno initial.
func NewSet(initial seqno.Global) *Set {
	return &Set{
		Local:  New(LocalAdmit, initial),
		Apply:  New(ApplyAdmit, initial),
		Commit: New(CommitAdmit, initial),
	}
}
