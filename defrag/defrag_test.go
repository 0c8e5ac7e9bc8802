package defrag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codership-go/galera-cert/common/xerrors"
	"github.com/codership-go/galera-cert/seqno"
)

func TestHandleReassemblesInOrder(t *testing.T) {
	d := New()

	action := []byte("Test action smuction")
	f1, f2, f3 := action[:7], action[7:14], action[14:]

	_, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 0, ActSize: len(action), Payload: f1}, false)
	require.NoError(t, err)
	require.False(t, complete)

	_, complete, err = d.Handle(Fragment{ActID: 1, FragNo: 1, ActSize: len(action), Payload: f2}, false)
	require.NoError(t, err)
	require.False(t, complete)

	out, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 2, ActSize: len(action), Payload: f3}, false)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, action, out)
}

func TestHandleRejectsNonFirstFragmentOfNewAction(t *testing.T) {
	d := New()
	_, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 2, ActSize: 10, Payload: []byte("xx")}, false)
	require.False(t, complete)
	require.ErrorIs(t, err, xerrors.ErrProtocol)
}

func TestHandleRejectsUnorderedFragment(t *testing.T) {
	d := New()
	action := []byte("0123456789")
	_, _, err := d.Handle(Fragment{ActID: 1, FragNo: 0, ActSize: len(action), Payload: action[:5]}, false)
	require.NoError(t, err)

	// wrong action id entirely - protocol error, not a tolerated dup
	_, _, err = d.Handle(Fragment{ActID: 2, FragNo: 1, ActSize: len(action), Payload: action[5:]}, false)
	require.ErrorIs(t, err, xerrors.ErrProtocol)
}

func TestHandleTreatsRetransmitAsDuplicate(t *testing.T) {
	d := New()
	action := []byte("0123456789")
	_, _, err := d.Handle(Fragment{ActID: 1, FragNo: 0, ActSize: len(action), Payload: action[:5]}, false)
	require.NoError(t, err)

	// re-delivery of fragment 0 arrives again instead of fragment 1
	_, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 0, ActSize: len(action), Payload: action[:5]}, false)
	require.NoError(t, err)
	require.False(t, complete)

	// the genuinely next fragment still completes the action afterwards
	out, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 1, ActSize: len(action), Payload: action[5:]}, false)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, action, out)
}

func TestHandleLocalResetRestartsAction(t *testing.T) {
	d := New()
	first := []byte("aaaaa")
	_, _, err := d.Handle(Fragment{ActID: 1, FragNo: 0, ActSize: 10, Payload: first}, true)
	require.NoError(t, err)

	d.Reset()

	second := []byte("bbbbbbbbbb")
	_, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 0, ActSize: len(second), Payload: second[:5]}, true)
	require.NoError(t, err)
	require.False(t, complete)

	out, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 1, ActSize: len(second), Payload: second[5:]}, true)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, second, out)
}

func TestHandleForeignFragmentAfterResetIsIgnored(t *testing.T) {
	d := New()
	d.Reset()

	// a non-local, non-first fragment arriving while reset (e.g. right
	// after a configuration change) is dropped calmly rather than
	// raising EPROTO
	_, complete, err := d.Handle(Fragment{ActID: 1, FragNo: 1, ActSize: 10, Payload: []byte("bbbbb")}, false)
	require.NoError(t, err)
	require.False(t, complete)
}

func TestRegistryPerSourceIsolation(t *testing.T) {
	r := NewRegistry()
	a := seqno.NodeID{1}
	b := seqno.NodeID{2}

	da := r.For(a)
	db := r.For(b)
	require.NotSame(t, da, db)
	require.Same(t, da, r.For(a))

	r.ResetAll()
	r.Drop(a)
	require.NotSame(t, da, r.For(a))
}
