package gcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codership-go/galera-cert/seqno"
)

// TestRecoveryRelinksAssignedBuffers simulates a restart that
// loses the in-memory seqno2ptr index while its pages remain resident:
// since this store is backed by an in-process byte slice rather than an
// actual memory-mapped file (see ring.go), there is no real process
// boundary to cross in a test, so the index is reset by hand and
// recoverPages is re-run over the same, still-populated page store.
func TestRecoveryRelinksAssignedBuffers(t *testing.T) {
	cfg := Config{
		MemSize:       0, // force everything into the page store
		RingSize:      0,
		PageSize:      4096,
		KeepPagesSize: 1 << 20,
	}
	gc, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		h, pt, err := gc.Malloc(8)
		require.NoError(t, err)
		copy(pt, []byte{byte(i), 1, 2, 3, 4, 5, 6, 7})
		require.NoError(t, gc.SeqnoAssign(h, seqno.Global(i+1)))
	}

	gc.seqnos = newSeqno2Ptr()
	require.NoError(t, recoverPages(gc))

	require.Equal(t, seqno.Global(1), gc.seqnos.oldest())
	require.Equal(t, seqno.Global(5), gc.seqnos.newest())

	b, ok := gc.seqnos.get(3)
	require.True(t, ok)
	require.Equal(t, byte(2), b.plaintext[0])
}

func TestRecoveryReportsTruncatedRecord(t *testing.T) {
	cfg := Config{
		MemSize:       0,
		RingSize:      0,
		PageSize:      4096,
		KeepPagesSize: 1 << 20,
	}
	gc, err := New(cfg)
	require.NoError(t, err)

	h, pt, err := gc.Malloc(8)
	require.NoError(t, err)
	copy(pt, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, gc.SeqnoAssign(h, 1))

	// Corrupt the record's on-disk size field so it claims to run past
	// the end of the page - simulating a torn write.
	writeHeaderAt(h.page.data, h.pageOff, BufferHeader{Size: 1 << 30, Seqno: 1, Store: InPage})

	gc.seqnos = newSeqno2Ptr()
	err = recoverPages(gc)
	require.Error(t, err)
	require.Equal(t, seqno.None, gc.seqnos.oldest(), "the one and only record was corrupted, so nothing was recovered")
}

func TestRecoveryWithNoPagesStartsFresh(t *testing.T) {
	cfg := Config{
		MemSize:       1024,
		RingSize:      4096,
		PageSize:      4096,
		KeepPagesSize: 1 << 20,
		Recover:       true,
	}
	gc, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, seqno.None, gc.seqnos.oldest())
}
