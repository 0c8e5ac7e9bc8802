package cert

import (
	"sync"

	"github.com/codership-go/galera-cert/keyset"
	"github.com/codership-go/galera-cert/seqno"
	"github.com/codership-go/galera-cert/writeset"
)

// Verdict is the certification outcome (§4.5).
type Verdict int

const (
	// OK: certified; caller enters the apply monitor with DependsSeqno.
	OK Verdict = iota
	// Failed: certified out; caller must self-cancel apply/commit monitors.
	Failed
)

func (v Verdict) String() string {
	if v == OK {
		return "OK"
	}
	return "FAILED"
}

type outcome int

const (
	ignore outcome = iota
	dependency
	conflictOutcome
)

// conflictMatrix[incoming][existing] per §4.5's table (rows: incoming
// S_K; columns: existing S_E). Same-source access degrades every
// conflictOutcome cell to dependency before this table is consulted.
var conflictMatrix = [4][4]outcome{
	keyset.Shared:    {keyset.Shared: ignore, keyset.Reference: ignore, keyset.Update: dependency, keyset.Exclusive: conflictOutcome},
	keyset.Reference: {keyset.Shared: ignore, keyset.Reference: ignore, keyset.Update: dependency, keyset.Exclusive: conflictOutcome},
	keyset.Update:    {keyset.Shared: dependency, keyset.Reference: dependency, keyset.Update: conflictOutcome, keyset.Exclusive: conflictOutcome},
	keyset.Exclusive: {keyset.Shared: conflictOutcome, keyset.Reference: conflictOutcome, keyset.Update: conflictOutcome, keyset.Exclusive: conflictOutcome},
}

// KeyRef is one key reference within a write-set being certified,
// already resolved to a logical Strength (wire-prefix collapsing, if
// any, has already been undone by the caller).
type KeyRef struct {
	FP        uint64
	Strength  keyset.Strength
	ZeroLevel bool
}

// Input is everything the engine needs to certify one write-set (§4.5).
type Input struct {
	Source    seqno.NodeID
	G         seqno.Global
	LastSeenG seqno.Global
	Flags     writeset.Flags
	Keys      []KeyRef

	// NBOKey identifies, for an F_NBO_END write-set, the g of the
	// F_NBO_BEGIN write-set it closes.
	NBOKey seqno.Global
}

// Result is the certification verdict plus the assigned dependency
// seqno, bounded per §4.5: max(last_seen_g, 0) <= depends_seqno <= g-1.
type Result struct {
	Verdict      Verdict
	DependsSeqno seqno.Global
}

// Engine is the certification engine: one index, one NBO-context table,
// one trim horizon (§4.5).
type Engine struct {
	mu           sync.Mutex
	idx          *Index
	paRangeLimit seqno.Global
	activeNBO    map[uint64]seqno.Global // fp -> blocking NBO_BEGIN g
	trimG        seqno.Global
}

// NewEngine returns an Engine backed by a fresh index. paRangeLimit
// bounds how far behind trim_g an index entry may lag before it
// becomes eligible for eviction (§4.5 "Trim horizon").
func NewEngine(paRangeLimit seqno.Global) *Engine {
	return &Engine{
		idx:          NewIndex(),
		paRangeLimit: paRangeLimit,
		activeNBO:    make(map[uint64]seqno.Global),
	}
}

// Index exposes the underlying certification index, e.g. for metrics.
func (e *Engine) Index() *Index { return e.idx }

// Certify runs the certification algorithm for one write-set (§4.5
// steps 1-6) and, on a PASS, updates the index and any NBO context.
func (e *Engine) Certify(in Input) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	toi := in.Flags.Has(writeset.FIsolation) && !in.Flags.Has(writeset.FNBOBegin) && !in.Flags.Has(writeset.FNBOEnd)
	nboBegin := in.Flags.Has(writeset.FNBOBegin)
	nboEnd := in.Flags.Has(writeset.FNBOEnd)

	if nboEnd {
		for fp, g := range e.activeNBO {
			if g == in.NBOKey {
				delete(e.activeNBO, fp)
			}
		}
	}

	depends := in.LastSeenG
	if depends < seqno.None {
		depends = seqno.None
	}

	// Rule 5: an active NBO context blocks any intersecting TOI or
	// NBO_BEGIN until its matching NBO_END.
	if toi || nboBegin {
		for _, k := range in.Keys {
			if g, blocked := e.activeNBO[k.FP]; blocked {
				return Result{Verdict: Failed, DependsSeqno: g}
			}
		}
	}

	for _, k := range in.Keys {
		if k.ZeroLevel && k.Strength == keyset.Exclusive {
			if conflict, conflictG, bump := e.scanZeroLevel(in); conflict {
				return Result{Verdict: Failed, DependsSeqno: conflictG}
			} else if bump > depends {
				depends = bump
			}
		}

		existing, ok := e.idx.Lookup(k.FP)
		if !ok {
			continue
		}

		if existing.G <= in.LastSeenG {
			if existing.G > depends {
				depends = existing.G
			}
			continue
		}

		if existing.Source == in.Source {
			// same-source access is never a conflict, dependency only
			if existing.G > depends {
				depends = existing.G
			}
			continue
		}

		switch conflictMatrix[k.Strength][existing.Strength] {
		case conflictOutcome:
			if toi {
				// rule 4: TOI never fails certification
				if existing.G > depends {
					depends = existing.G
				}
				continue
			}
			return Result{Verdict: Failed, DependsSeqno: existing.G}
		case dependency:
			if existing.G > depends {
				depends = existing.G
			}
		}
	}

	if in.Flags.Has(writeset.FPAUnsafe) {
		depends = in.G - 1
	}

	// index updates only happen after a PASS (§4.5 "Index updates")
	for _, k := range in.Keys {
		strength := k.Strength
		if toi || nboBegin {
			// rule 4/5: TOI and NBO_BEGIN insert their own entries at
			// EXCLUSIVE strength regardless of the key's nominal strength
			strength = keyset.Exclusive
		}
		e.idx.Insert(k.FP, in.G, in.Source, strength)
	}
	if nboBegin {
		for _, k := range in.Keys {
			e.activeNBO[k.FP] = in.G
		}
	}

	return Result{Verdict: OK, DependsSeqno: depends}
}

// scanZeroLevel implements rule 6: a zero-level EXCLUSIVE key conflicts
// with any non-same-source REFERENCE/UPDATE/EXCLUSIVE entry anywhere in
// the trail window relevant to this write-set, but only creates a
// dependency against same-source entries. Unlike ordinary per-key
// lookups this must consult every live fingerprint in range, since a
// zero-level key's fingerprint does not correlate with the leaves it
// stands in for; the cost is bounded by the trail window, which a
// zero-level EXCLUSIVE key (a whole-table lock) is expected to be rare.
func (e *Engine) scanZeroLevel(in Input) (conflict bool, conflictG, bump seqno.Global) {
	e.idx.Scan(in.LastSeenG, in.G, func(entry Entry) bool {
		if entry.Source == in.Source {
			if entry.G > bump {
				bump = entry.G
			}
			return true
		}
		if entry.Strength != keyset.Shared {
			conflict = true
			conflictG = entry.G
			return false
		}
		return true
	})
	return
}

// SetTrxCommitted advances the trim horizon per §4.5: on commit of g,
// all index entries with g <= trim_g - pa_range_limit become eligible
// for lazy eviction.
func (e *Engine) SetTrxCommitted(g seqno.Global) int {
	e.mu.Lock()
	if g > e.trimG {
		e.trimG = g
	}
	horizon := e.trimG - e.paRangeLimit
	e.mu.Unlock()

	if horizon < seqno.None {
		return 0
	}
	return e.idx.Trim(horizon)
}
