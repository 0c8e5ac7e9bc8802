package gcache

import (
	"github.com/codership-go/galera-cert/seqno"
)

// seqno2ptr is the dense ring from seqno to buffer, indexed by g (§4.6
// "Ordering invariants"), grounded on gcache_seqno.hpp. Entries are
// assigned strictly in increasing g order by seqno_assign and discarded
// from the oldest end as they are released, never out of order.
type seqno2ptr struct {
	base    seqno.Global // g of entries[0], or None if empty
	entries []*Buffer
}

func newSeqno2Ptr() *seqno2ptr {
	return &seqno2ptr{base: seqno.None}
}

// assign records b under g. g must be exactly one past the highest g
// assigned so far (or the first assignment), matching the original's
// "no gaps" invariant.
func (s *seqno2ptr) assign(g seqno.Global, b *Buffer) {
	if len(s.entries) == 0 {
		s.base = g
	}
	s.entries = append(s.entries, b)
}

// get returns the buffer assigned to g, if it is still in the ring.
func (s *seqno2ptr) get(g seqno.Global) (*Buffer, bool) {
	if len(s.entries) == 0 || g < s.base {
		return nil, false
	}
	idx := int(g - s.base)
	if idx >= len(s.entries) {
		return nil, false
	}
	return s.entries[idx], true
}

// oldest returns the smallest g still tracked, or seqno.None if empty.
func (s *seqno2ptr) oldest() seqno.Global {
	if len(s.entries) == 0 {
		return seqno.None
	}
	return s.base
}

// newest returns the largest g assigned so far, or seqno.None if empty.
func (s *seqno2ptr) newest() seqno.Global {
	if len(s.entries) == 0 {
		return seqno.None
	}
	return s.base + seqno.Global(len(s.entries)) - 1
}

// discardReleased scans from the oldest tracked seqno and drops every
// buffer marked released, stopping at the first one that is not - the
// exact rule GCache.free()/seqno_release applies when reclaiming trailing
// space (§4.6: "Discard scans from the oldest seqno and stops at the
// first non-released buffer").
func (s *seqno2ptr) discardReleased() []*Buffer {
	var dropped []*Buffer
	n := 0
	for n < len(s.entries) && s.entries[n] != nil && s.entries[n].released {
		dropped = append(dropped, s.entries[n])
		n++
	}
	if n > 0 {
		s.entries = s.entries[n:]
		s.base += seqno.Global(n)
	}
	return dropped
}

// buffers collects up to len(out) buffers starting at g (inclusive),
// stopping early if the ring runs out, returning the count written.
func (s *seqno2ptr) buffers(g seqno.Global, out []*Buffer) int {
	n := 0
	for n < len(out) {
		b, ok := s.get(g + seqno.Global(n))
		if !ok {
			break
		}
		out[n] = b
		n++
	}
	return n
}
