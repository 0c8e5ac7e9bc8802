package gcache

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/codership-go/galera-cert/common/service"
	"github.com/codership-go/galera-cert/seqno"
)

// releaseRequest asks the service thread to mark g released once its
// buffer's refcount reaches zero.
type releaseRequest struct {
	g seqno.Global
}

// serviceThread drains the three background queues the original's
// dedicated GCache worker owns (§5 "Service thread"): last-applied
// notifications fed back to the transport layer, deferred seqno_release
// requests, and page-file deletions already queued by the page store.
// Modeled on common/service's BaseBackgroundService lifecycle.
type serviceThread struct {
	*service.BaseBackgroundService

	gc *GCache

	mu        sync.Mutex
	cond      *sync.Cond
	lastApplied *deque.Deque[seqno.Global]
	releases    *deque.Deque[releaseRequest]

	onLastApplied func(seqno.Global)
	onDeletePage  func(name string)

	stopped bool
}

func newServiceThread(gc *GCache, onLastApplied func(seqno.Global), onDeletePage func(name string)) *serviceThread {
	st := &serviceThread{
		BaseBackgroundService: service.NewBaseBackgroundService("gcache"),
		gc:                    gc,
		lastApplied:           deque.New[seqno.Global](0, 256),
		releases:              deque.New[releaseRequest](0, 256),
		onLastApplied:         onLastApplied,
		onDeletePage:          onDeletePage,
	}
	st.cond = sync.NewCond(&st.mu)
	return st
}

// notifyLastApplied queues a last-applied seqno for delivery to the
// transport layer, waking the service loop.
func (st *serviceThread) notifyLastApplied(g seqno.Global) {
	st.mu.Lock()
	st.lastApplied.PushBack(g)
	st.mu.Unlock()
	st.cond.Broadcast()
}

// queueRelease defers a seqno_release request onto the service thread,
// used when GCache.SeqnoRelease is called from a context that must not
// block on reclaiming space itself.
func (st *serviceThread) queueRelease(g seqno.Global) {
	st.mu.Lock()
	st.releases.PushBack(releaseRequest{g: g})
	st.mu.Unlock()
	st.cond.Broadcast()
}

// run is the service loop: wake on any queue becoming non-empty or Stop
// being called, drain everything pending, repeat.
func (st *serviceThread) run() {
	for {
		st.mu.Lock()
		for st.lastApplied.Len() == 0 && st.releases.Len() == 0 && st.gc.pageStore.deleteQ.Len() == 0 && !st.stopped {
			st.cond.Wait()
		}
		if st.stopped && st.lastApplied.Len() == 0 && st.releases.Len() == 0 && st.gc.pageStore.deleteQ.Len() == 0 {
			st.mu.Unlock()
			return
		}
		var applied []seqno.Global
		for st.lastApplied.Len() > 0 {
			applied = append(applied, st.lastApplied.PopFront())
		}
		var releases []releaseRequest
		for st.releases.Len() > 0 {
			releases = append(releases, st.releases.PopFront())
		}
		var deletes []string
		for st.gc.pageStore.deleteQ.Len() > 0 {
			deletes = append(deletes, st.gc.pageStore.deleteQ.PopFront())
		}
		st.mu.Unlock()

		for _, g := range applied {
			if st.onLastApplied != nil {
				st.onLastApplied(g)
			}
		}
		for _, r := range releases {
			st.gc.SeqnoRelease(r.g)
		}
		for _, name := range deletes {
			if st.onDeletePage != nil {
				st.onDeletePage(name)
			}
		}
	}
}

func (st *serviceThread) Start() error {
	go st.run()
	return nil
}

func (st *serviceThread) Stop() {
	st.mu.Lock()
	st.stopped = true
	st.mu.Unlock()
	st.cond.Broadcast()
	st.BaseBackgroundService.Stop()
}
