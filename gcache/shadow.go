package gcache

import (
	"github.com/codership-go/galera-cert/common/cache/lru"
	"github.com/codership-go/galera-cert/seqno"
)

// shadowEntry is one plaintext shadow of an encrypted page-store buffer
// (§5 "Memory", §4.6 "Page store algorithm"). Only buffers whose backing
// store is a page carry a shadow; heap and ring buffers are already
// plaintext in place.
type shadowEntry struct {
	buf     *Buffer
	changed bool // plaintext was written to since last flush
}

// Size implements lru.Sizeable.
func (s *shadowEntry) Size() uint64 { return uint64(s.buf.Size()) }

// shadowCache holds the plaintext shadows for encrypted mode: decrypted
// copies of page-store payloads in a soft-budget LRU that never refuses
// a new shadow. A shadow leaves the cache only through drop (called by
// DropPlaintext); GCache does not call reclaim, so exceeding the budget
// evicts nothing.
type shadowCache struct {
	cache *lru.Cache[seqno.Global, *shadowEntry]
}

func newShadowCache(budget uint64) *shadowCache {
	sc := &shadowCache{}
	sc.cache = lru.New[seqno.Global, *shadowEntry](budget, true, nil)
	return sc
}

// put registers a freshly decrypted (or freshly allocated, pre-flush)
// plaintext shadow for g.
func (sc *shadowCache) put(g seqno.Global, b *Buffer) {
	sc.cache.Put(g, &shadowEntry{buf: b})
}

// get returns the live shadow for g, if resident.
func (sc *shadowCache) get(g seqno.Global) (*Buffer, bool) {
	e, ok := sc.cache.Get(g)
	if !ok {
		return nil, false
	}
	return e.buf, true
}

// markChanged records that g's plaintext was written through a
// get_rw_plaintext handle, so reclaim must flush before dropping it.
func (sc *shadowCache) markChanged(g seqno.Global) {
	if e, ok := sc.cache.Peek(g); ok {
		e.changed = true
	}
}

// drop removes g's shadow unconditionally, flushing first if it was
// changed - the behavior behind the public drop_plaintext operation.
func (sc *shadowCache) drop(g seqno.Global, offsetInPage int) {
	e, ok := sc.cache.Peek(g)
	if !ok {
		return
	}
	if e.changed && e.buf.page != nil {
		e.buf.page.flush(e.buf, offsetInPage)
	}
	sc.cache.Remove(g)
}

// reclaim flushes and drops shadows from least-recently-used until the
// cache is back under its soft budget or nothing more is evictable.
// evictable reports whether g's buffer may currently be reclaimed (a
// buffer handed out via get_rw_plaintext and not yet released must not
// be reclaimed out from under the caller).
func (sc *shadowCache) reclaim(evictable func(g seqno.Global) bool, flush func(g seqno.Global, b *Buffer)) int {
	return sc.cache.Reclaim(func(g seqno.Global, e *shadowEntry) bool {
		if !evictable(g) {
			return false
		}
		if e.changed {
			flush(g, e.buf)
		}
		return true
	})
}

// overBudget reports whether the shadow cache currently exceeds its soft
// ceiling. DropPlaintext does not consult it.
func (sc *shadowCache) overBudget() bool { return sc.cache.OverBudget() }
