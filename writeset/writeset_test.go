package writeset

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codership-go/galera-cert/common/xerrors"
	"github.com/codership-go/galera-cert/keyset"
	"github.com/codership-go/galera-cert/seqno"
)

func node(b byte) seqno.NodeID {
	var id uuid.UUID
	id[0] = b
	return id
}

func sample(ver keyset.WSVersion) *WriteSet {
	ks := keyset.NewOut(ver, keyset.FLAT8, 8)
	_, _ = ks.Append([][]byte{[]byte("db"), []byte("t1")}, keyset.Exclusive, keyset.Shared)
	return &WriteSet{
		Header: Header{
			Version:   ver,
			Type:      TypeWriteSet,
			Flags:     FBegin | FCommit,
			Source:    node(1),
			ConnID:    7,
			TrxID:     42,
			LastSeenG: 5,
			PARange:   3,
		},
		Keys:        ks.Gather(),
		Data:        []byte("insert into t1 values (1)"),
		Annotations: []byte("trace-id=abc"),
	}
}

func TestSerializeUnserializeRoundTrip(t *testing.T) {
	for _, ver := range []keyset.WSVersion{keyset.WS3, keyset.WS4, keyset.WS5} {
		ver := ver
		t.Run(fmt.Sprintf("WS%d", ver), func(t *testing.T) {
			ws := sample(ver)
			buf, n := ws.Serialize(nil)
			require.Equal(t, len(buf), n)

			got, err := Unserialize(buf)
			require.NoError(t, err)
			require.Equal(t, ws.Header.Type, got.Header.Type)
			require.Equal(t, ws.Header.Flags, got.Header.Flags)
			require.Equal(t, ws.Header.Source, got.Header.Source)
			require.Equal(t, ws.Header.ConnID, got.Header.ConnID)
			require.Equal(t, ws.Header.TrxID, got.Header.TrxID)
			require.Equal(t, ws.Header.LastSeenG, got.Header.LastSeenG)
			require.Equal(t, ws.Keys, got.Keys)
			require.Equal(t, ws.Data, got.Data)
			require.Equal(t, ws.Annotations, got.Annotations)
			if ver >= keyset.WS5 {
				require.Equal(t, ws.Header.PARange, got.Header.PARange)
			}
		})
	}
}

func TestUnserializeRejectsBadMagic(t *testing.T) {
	ws := sample(keyset.WS5)
	buf, _ := ws.Serialize(nil)
	buf[3] ^= 0xFF // high byte of the little-endian magic word; buf[0] is the version

	_, err := Unserialize(buf)
	require.ErrorIs(t, err, xerrors.ErrProtocol)
}

func TestUnserializeDetectsCRCMismatch(t *testing.T) {
	ws := sample(keyset.WS5)
	buf, _ := ws.Serialize(nil)
	buf[len(buf)-trailerSize-1] ^= 0xFF // flip the last byte before the CRC trailer

	_, err := Unserialize(buf)
	require.ErrorIs(t, err, xerrors.ErrProtocol)
}

func TestUnserializeRejectsTruncatedBuffer(t *testing.T) {
	ws := sample(keyset.WS5)
	buf, _ := ws.Serialize(nil)

	_, err := Unserialize(buf[:fixedHeaderSize])
	require.ErrorIs(t, err, xerrors.ErrProtocol)
}

func TestGatherStampsOriginIdentity(t *testing.T) {
	ws := sample(keyset.WS4)
	ws.Header.Source = seqno.NilNodeID
	source := node(9)

	scatter := ws.Gather(source, 11, 22)
	require.Len(t, scatter, 1)

	got, err := Unserialize(scatter[0])
	require.NoError(t, err)
	require.Equal(t, source, got.Header.Source)
	require.Equal(t, seqno.ConnID(11), got.Header.ConnID)
	require.Equal(t, seqno.TrxID(22), got.Header.TrxID)
}

func TestFinalizeStampsLastSeenG(t *testing.T) {
	ws := sample(keyset.WS5)
	ws.Finalize(123)
	require.Equal(t, seqno.Global(123), ws.Header.LastSeenG)
}
