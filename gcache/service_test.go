package gcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codership-go/galera-cert/seqno"
)

func TestServiceThreadDrainsLastAppliedNotifications(t *testing.T) {
	gc := newTestCache(t, false)

	var mu sync.Mutex
	var seen []seqno.Global
	done := make(chan struct{}, 1)

	gc.svc.onLastApplied = func(g seqno.Global) {
		mu.Lock()
		seen = append(seen, g)
		if len(seen) == 3 {
			select {
			case done <- struct{}{}:
			default:
			}
		}
		mu.Unlock()
	}
	require.NoError(t, gc.Start())
	defer gc.Stop()

	gc.svc.notifyLastApplied(1)
	gc.svc.notifyLastApplied(2)
	gc.svc.notifyLastApplied(3)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for last-applied notifications to drain")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []seqno.Global{1, 2, 3}, seen)
}

func TestServiceThreadDrainsDeferredReleases(t *testing.T) {
	gc := newTestCache(t, false)
	require.NoError(t, gc.Start())
	defer gc.Stop()

	h, _, err := gc.Malloc(8)
	require.NoError(t, err)
	require.NoError(t, gc.SeqnoAssign(h, 1))

	gc.svc.queueRelease(1)

	require.Eventually(t, func() bool {
		_, ok := gc.seqnos.get(1)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
