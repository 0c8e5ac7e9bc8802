package cert

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codership-go/galera-cert/keyset"
	"github.com/codership-go/galera-cert/seqno"
	"github.com/codership-go/galera-cert/writeset"
)

func node(b byte) seqno.NodeID {
	var id uuid.UUID
	id[0] = b
	return id
}

func TestCertifyFirstWriterAlwaysPasses(t *testing.T) {
	e := NewEngine(1000)
	res := e.Certify(Input{
		Source: node(1), G: 1, LastSeenG: 0,
		Keys: []KeyRef{{FP: 42, Strength: keyset.Exclusive}},
	})
	require.Equal(t, OK, res.Verdict)
	require.Equal(t, seqno.Global(0), res.DependsSeqno)
}

func TestCertifyConflictsCrossSourceExclusiveVsExclusive(t *testing.T) {
	e := NewEngine(1000)
	e.Certify(Input{Source: node(1), G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Exclusive}}})

	res := e.Certify(Input{Source: node(2), G: 2, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Exclusive}}})
	require.Equal(t, Failed, res.Verdict)
	require.Equal(t, seqno.Global(1), res.DependsSeqno)
}

func TestCertifySameSourceNeverConflicts(t *testing.T) {
	e := NewEngine(1000)
	src := node(1)
	e.Certify(Input{Source: src, G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Exclusive}}})

	res := e.Certify(Input{Source: src, G: 2, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Exclusive}}})
	require.Equal(t, OK, res.Verdict)
	require.Equal(t, seqno.Global(1), res.DependsSeqno, "same-source access is a dependency, not a conflict")
}

func TestCertifySharedKeysNeverConflict(t *testing.T) {
	e := NewEngine(1000)
	e.Certify(Input{Source: node(1), G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Shared}}})

	res := e.Certify(Input{Source: node(2), G: 2, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Shared}}})
	require.Equal(t, OK, res.Verdict)
	require.Equal(t, seqno.Global(0), res.DependsSeqno)
}

func TestCertifyUpdateConflictsWithUpdateCrossSource(t *testing.T) {
	e := NewEngine(1000)
	e.Certify(Input{Source: node(1), G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Update}}})

	res := e.Certify(Input{Source: node(2), G: 2, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Update}}})
	require.Equal(t, Failed, res.Verdict)
}

func TestCertifyAlreadySeenKeySkipsButBumpsDepends(t *testing.T) {
	e := NewEngine(1000)
	e.Certify(Input{Source: node(1), G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Exclusive}}})

	// W saw g=1 already (last_seen_g=1): no conflict possible, but
	// depends_seqno is still raised to reflect that known dependency.
	res := e.Certify(Input{Source: node(2), G: 2, LastSeenG: 1, Keys: []KeyRef{{FP: 1, Strength: keyset.Exclusive}}})
	require.Equal(t, OK, res.Verdict)
	require.Equal(t, seqno.Global(1), res.DependsSeqno)
}

func TestCertifyTOINeverFails(t *testing.T) {
	e := NewEngine(1000)
	e.Certify(Input{Source: node(1), G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Exclusive}}})

	res := e.Certify(Input{
		Source: node(2), G: 2, LastSeenG: 0,
		Flags: writeset.FIsolation,
		Keys:  []KeyRef{{FP: 1, Strength: keyset.Exclusive}},
	})
	require.Equal(t, OK, res.Verdict)
	require.Equal(t, seqno.Global(1), res.DependsSeqno)
}

func TestCertifyPAUnsafeForcesSerialApply(t *testing.T) {
	e := NewEngine(1000)
	res := e.Certify(Input{
		Source: node(1), G: 5, LastSeenG: 0,
		Flags: writeset.FPAUnsafe,
		Keys:  []KeyRef{{FP: 1, Strength: keyset.Shared}},
	})
	require.Equal(t, OK, res.Verdict)
	require.Equal(t, seqno.Global(4), res.DependsSeqno)
}

func TestCertifyNBOBeginBlocksIntersectingTOIUntilEnd(t *testing.T) {
	e := NewEngine(1000)
	begin := e.Certify(Input{
		Source: node(1), G: 1, LastSeenG: 0,
		Flags: writeset.FNBOBegin,
		Keys:  []KeyRef{{FP: 7, Strength: keyset.Exclusive}},
	})
	require.Equal(t, OK, begin.Verdict)

	blocked := e.Certify(Input{
		Source: node(2), G: 2, LastSeenG: 0,
		Flags: writeset.FIsolation,
		Keys:  []KeyRef{{FP: 7, Strength: keyset.Exclusive}},
	})
	require.Equal(t, Failed, blocked.Verdict)
	require.Equal(t, seqno.Global(1), blocked.DependsSeqno)

	end := e.Certify(Input{
		Source: node(1), G: 3, LastSeenG: 1,
		Flags:  writeset.FNBOEnd,
		NBOKey: 1,
		Keys:   nil,
	})
	require.Equal(t, OK, end.Verdict)

	unblocked := e.Certify(Input{
		Source: node(2), G: 4, LastSeenG: 0,
		Flags: writeset.FIsolation,
		Keys:  []KeyRef{{FP: 7, Strength: keyset.Exclusive}},
	})
	require.Equal(t, OK, unblocked.Verdict)
}

func TestCertifyZeroLevelExclusiveConflictsCrossSource(t *testing.T) {
	e := NewEngine(1000)
	e.Certify(Input{Source: node(1), G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 99, Strength: keyset.Update}}})

	res := e.Certify(Input{
		Source: node(2), G: 2, LastSeenG: 0,
		Keys: []KeyRef{{FP: 0, Strength: keyset.Exclusive, ZeroLevel: true}},
	})
	require.Equal(t, Failed, res.Verdict)
	require.Equal(t, seqno.Global(1), res.DependsSeqno)
}

func TestCertifyZeroLevelExclusiveSameSourceIsDependencyOnly(t *testing.T) {
	e := NewEngine(1000)
	src := node(1)
	e.Certify(Input{Source: src, G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 99, Strength: keyset.Update}}})

	res := e.Certify(Input{
		Source: src, G: 2, LastSeenG: 0,
		Keys: []KeyRef{{FP: 0, Strength: keyset.Exclusive, ZeroLevel: true}},
	})
	require.Equal(t, OK, res.Verdict)
	require.Equal(t, seqno.Global(1), res.DependsSeqno)
}

func TestTrimEvictsBelowHorizon(t *testing.T) {
	e := NewEngine(0)
	e.Certify(Input{Source: node(1), G: 1, LastSeenG: 0, Keys: []KeyRef{{FP: 1, Strength: keyset.Shared}}})
	e.Certify(Input{Source: node(1), G: 2, LastSeenG: 0, Keys: []KeyRef{{FP: 2, Strength: keyset.Shared}}})
	require.Equal(t, 2, e.Index().Len())

	n := e.SetTrxCommitted(1)
	require.Equal(t, 1, n)
	require.Equal(t, 1, e.Index().Len())
}
