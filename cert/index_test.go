package cert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codership-go/galera-cert/keyset"
	"github.com/codership-go/galera-cert/seqno"
)

func TestIndexInsertAndLookup(t *testing.T) {
	idx := NewIndex()
	idx.Insert(1, 5, node(1), keyset.Exclusive)

	e, ok := idx.Lookup(1)
	require.True(t, ok)
	require.Equal(t, seqno.Global(5), e.G)
	require.Equal(t, keyset.Exclusive, e.Strength)

	_, ok = idx.Lookup(2)
	require.False(t, ok)
}

func TestIndexInsertRedirectsLookupToStrongerEntry(t *testing.T) {
	idx := NewIndex()
	idx.Insert(1, 5, node(1), keyset.Shared)
	idx.Insert(1, 9, node(1), keyset.Exclusive)

	e, ok := idx.Lookup(1)
	require.True(t, ok)
	require.Equal(t, seqno.Global(9), e.G)
	require.Equal(t, keyset.Exclusive, e.Strength)
	require.Equal(t, 1, idx.Len(), "the fingerprint map still holds exactly one live entry")
}

func TestIndexScanOrdersByGWithinRange(t *testing.T) {
	idx := NewIndex()
	idx.Insert(1, 2, node(1), keyset.Shared)
	idx.Insert(2, 4, node(1), keyset.Shared)
	idx.Insert(3, 6, node(1), keyset.Shared)

	var seen []seqno.Global
	idx.Scan(1, 6, func(e Entry) bool {
		seen = append(seen, e.G)
		return true
	})
	require.Equal(t, []seqno.Global{2, 4}, seen, "beforeG is exclusive, lastSeenG+1 is the lower bound")
}

func TestIndexScanStopsEarlyWhenFnReturnsFalse(t *testing.T) {
	idx := NewIndex()
	idx.Insert(1, 2, node(1), keyset.Shared)
	idx.Insert(2, 4, node(1), keyset.Shared)
	idx.Insert(3, 6, node(1), keyset.Shared)

	count := 0
	idx.Scan(0, 100, func(Entry) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}

func TestIndexTrimEvictsUpToHorizonAndUpdatesLen(t *testing.T) {
	idx := NewIndex()
	idx.Insert(1, 2, node(1), keyset.Shared)
	idx.Insert(2, 4, node(1), keyset.Shared)
	idx.Insert(3, 6, node(1), keyset.Shared)

	n := idx.Trim(4)
	require.Equal(t, 2, n)
	require.Equal(t, 1, idx.Len())

	_, ok := idx.Lookup(1)
	require.False(t, ok)
	_, ok = idx.Lookup(3)
	require.True(t, ok)
}

func TestIndexTrimLeavesRedirectedStaleEntryOutOfFPMap(t *testing.T) {
	idx := NewIndex()
	idx.Insert(1, 2, node(1), keyset.Shared)    // stale, later redirected
	idx.Insert(1, 10, node(1), keyset.Exclusive) // live

	// Trim below the live entry's g: the stale g=2 entry is evicted from
	// the g-ordered structure, but since idx.byFP[1] no longer points at
	// it, the fingerprint map (and thus Len) is untouched.
	n := idx.Trim(5)
	require.Equal(t, 1, n)
	require.Equal(t, 1, idx.Len())

	e, ok := idx.Lookup(1)
	require.True(t, ok)
	require.Equal(t, seqno.Global(10), e.G)
}
