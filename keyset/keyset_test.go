package keyset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codership-go/galera-cert/common/xerrors"
)

func TestAppendDeduplicatesBranches(t *testing.T) {
	ks := NewOut(WS5, FLAT8, 8)

	n1, err := ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Exclusive, Shared)
	require.NoError(t, err)
	require.Equal(t, 3, n1)

	n2, err := ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r2")}, Exclusive, Shared)
	require.NoError(t, err)
	require.Equal(t, 1, n2, "only the new leaf should be emitted, db/t1 branch already present")
}

func TestAppendLeafDuplicateRaisesDuplicate(t *testing.T) {
	ks := NewOut(WS5, FLAT8, 8)

	_, err := ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Exclusive, Shared)
	require.NoError(t, err)

	_, err = ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Exclusive, Shared)
	require.ErrorIs(t, err, xerrors.ErrDuplicateKey)

	_, err = ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Update, Shared)
	require.ErrorIs(t, err, xerrors.ErrDuplicateKey, "weaker repeat of the same leaf is still a duplicate")
}

func TestAppendStrengtheningAddsOneEntryPerTier(t *testing.T) {
	ks := NewOut(WS5, FLAT8, 8)

	before := ks.Size()
	_, err := ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Shared, Shared)
	require.NoError(t, err)
	afterShared := ks.Size()
	require.Greater(t, afterShared, before)

	n, err := ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Reference, Shared)
	require.NoError(t, err)
	require.Equal(t, 1, n, "strengthening appends exactly one new entry")

	n, err = ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Exclusive, Shared)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stats := ks.Stats()
	require.Equal(t, 2, stats.Strengthened)
}

func TestAppendDeeperKeyAfterExclusiveLeafIsAbsorbed(t *testing.T) {
	ks := NewOut(WS5, FLAT8, 8)

	_, err := ks.Append([][]byte{[]byte("db"), []byte("t1")}, Exclusive, Shared)
	require.NoError(t, err)

	n, err := ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r1")}, Shared, Shared)
	require.NoError(t, err)
	require.Equal(t, 0, n, "db/t1 is already held EXCLUSIVE, so the deeper key emits nothing")
}

func TestZeroLevelKey(t *testing.T) {
	ks := NewOut(WS5, FLAT8, 8)

	n, err := ks.Append(nil, Exclusive, Shared)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = ks.Append(nil, Exclusive, Shared)
	require.ErrorIs(t, err, xerrors.ErrDuplicateKey)
}

func TestRoundTrip(t *testing.T) {
	for _, ver := range []Version{FLAT8, FLAT8A, FLAT16, FLAT16A} {
		ver := ver
		t.Run(ver.String(), func(t *testing.T) {
			ks := NewOut(WS5, ver, 8)
			_, err := ks.AppendAnnotated([][]byte{[]byte("db"), []byte("t1"), []byte("r1")},
				Exclusive, Shared, []byte("provenance"))
			require.NoError(t, err)
			_, err = ks.Append([][]byte{[]byte("db"), []byte("t1"), []byte("r2")}, Shared, Shared)
			require.NoError(t, err)

			buf := ks.Gather()
			parts, size, err := Count(buf)
			require.NoError(t, err)
			require.Equal(t, len(buf), size, "KeySetIn must consume exactly what KeySetOut wrote")
			require.Equal(t, 4, parts) // db, t1, r1(+annotation); second append's db/t1 absorbed, only r2 new

			in := NewIn(buf)
			all, err := in.All()
			require.NoError(t, err)
			require.Len(t, all, parts)
			if ver.Annotated() {
				require.Equal(t, []byte("provenance"), all[2].Annotation)
			}
		})
	}
}

func TestWirePrefixCollapsesPerVersion(t *testing.T) {
	require.Equal(t, WirePrefix(Shared, WS3), WirePrefix(Shared, WS3))
	require.Equal(t, WirePrefix(Reference, WS3), WirePrefix(Update, WS3))
	require.Equal(t, WirePrefix(Reference, WS3), WirePrefix(Exclusive, WS3))

	require.Equal(t, WirePrefix(Reference, WS4), WirePrefix(Update, WS4))
	require.NotEqual(t, WirePrefix(Update, WS4), WirePrefix(Exclusive, WS4))

	require.NotEqual(t, WirePrefix(Reference, WS5), WirePrefix(Update, WS5))
	require.NotEqual(t, WirePrefix(Update, WS5), WirePrefix(Exclusive, WS5))
}
