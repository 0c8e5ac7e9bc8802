// Package cert implements the certification index and engine (§4.5):
// the deterministic conflict detector that turns a totally-ordered
// stream of write-sets into pass/fail verdicts plus parallel-applier
// dependency seqnos.
package cert

import (
	"sync"

	"github.com/google/btree"

	"github.com/codership-go/galera-cert/keyset"
	"github.com/codership-go/galera-cert/seqno"
)

// Entry is one certification index record: the highest write-set g
// that referenced a given key-part fingerprint, from which source, at
// what strength (§3).
type Entry struct {
	FP       uint64
	G        seqno.Global
	Source   seqno.NodeID
	Strength keyset.Strength
}

// indexLess orders entries by g then fingerprint, giving the btree a
// total order even though many entries can share the same g.
func indexLess(a, b *Entry) bool {
	if a.G != b.G {
		return a.G < b.G
	}
	return a.FP < b.FP
}

// Index is the certification index: a hash map from fingerprint to the
// live (possibly redirected-to) entry, plus a secondary structure
// ordered by g used for trim/eviction range scans and for the
// zero-level rule's trail-wide scan (§4.5 rule 6), grounded on
// google/btree.BTreeG rather than the teacher's unordered_set-of-
// mutable-nodes approach.
type Index struct {
	mu   sync.Mutex
	byFP map[uint64]*Entry
	byG  *btree.BTreeG[*Entry]
}

// NewIndex returns an empty certification index.
func NewIndex() *Index {
	return &Index{
		byFP: make(map[uint64]*Entry),
		byG:  btree.NewG[*Entry](32, indexLess),
	}
}

// Lookup returns the live entry for fp, if any.
func (idx *Index) Lookup(fp uint64) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.byFP[fp]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Insert records a new reference to fp at g/source/strength (only
// called after a PASS verdict, per §4.5 "Index updates"). If a weaker
// entry already exists for fp, the lookup is redirected to the new
// entry - the old one is left in the g-ordered structure so trim can
// still find and evict it.
func (idx *Index) Insert(fp uint64, g seqno.Global, source seqno.NodeID, strength keyset.Strength) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e := &Entry{FP: fp, G: g, Source: source, Strength: strength}
	idx.byFP[fp] = e
	idx.byG.ReplaceOrInsert(e)
}

// Scan calls fn for every entry with g in (lastSeenG, beforeG), in
// ascending g order, stopping early if fn returns false. Used both for
// ordinary conflict scanning's bounds check and for the zero-level
// rule's trail-wide scan.
func (idx *Index) Scan(lastSeenG, beforeG seqno.Global, fn func(Entry) bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	lo := &Entry{G: lastSeenG + 1}
	hi := &Entry{G: beforeG}
	idx.byG.AscendRange(lo, hi, func(e *Entry) bool {
		return fn(*e)
	})
}

// Trim evicts every entry with g <= horizon, removing it from the
// g-ordered structure and, only if it is still the live entry for its
// fingerprint (i.e. not since redirected to a stronger entry), from the
// fingerprint map too (§4.5 "Trim horizon").
func (idx *Index) Trim(horizon seqno.Global) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var evicted []*Entry
	idx.byG.AscendRange(&Entry{G: seqno.None}, &Entry{G: horizon + 1}, func(e *Entry) bool {
		evicted = append(evicted, e)
		return true
	})
	for _, e := range evicted {
		idx.byG.Delete(e)
		if idx.byFP[e.FP] == e {
			delete(idx.byFP, e.FP)
		}
	}
	return len(evicted)
}

// Len returns the number of live (fingerprint-reachable) entries.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.byFP)
}
