// Package replicator exposes the narrow entry contract the upper
// replication state machine drives the certification core through
// (§4.7): replicate, pre_commit, post_commit, to_execute_start/end and
// causal_read. Everything else - SST/IST orchestration, membership
// bookkeeping, the wire transport itself - is an external collaborator,
// reached here only through the Transport interface.
package replicator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"

	"github.com/codership-go/galera-cert/cert"
	"github.com/codership-go/galera-cert/common/logging"
	"github.com/codership-go/galera-cert/common/xerrors"
	"github.com/codership-go/galera-cert/defrag"
	"github.com/codership-go/galera-cert/gcache"
	"github.com/codership-go/galera-cert/keyset"
	"github.com/codership-go/galera-cert/metrics"
	"github.com/codership-go/galera-cert/monitor"
	"github.com/codership-go/galera-cert/seqno"
	"github.com/codership-go/galera-cert/writeset"
)

// Delivery is one totally-ordered message handed up by the transport: an
// opaque write-set fragment plus the group seqno the virtual-synchrony
// layer assigned it.
type Delivery struct {
	G      seqno.Global
	Source seqno.NodeID
	Frag   defrag.Fragment
}

// Transport is the narrow slice of the wire/virtual-synchrony layer this
// package depends on (§1 "out of scope as external collaborators"):
// broadcast a serialized write-set, and receive the totally-ordered
// delivery stream it and every other member produces.
type Transport interface {
	Broadcast(ctx context.Context, payload []byte) error
	Deliveries() <-chan Delivery
}

// Status is returned by Replicate once the local monitor has admitted
// the write-set's assigned seqno.
type Status struct {
	G      seqno.Global
	Handle gcache.Handle
}

// Replicator wires KeySet/WriteSet serialization, the Defragmenter, the
// three ordered Monitors, the Certification Engine and GCache into the
// operations described by §4.7, grounded on the concurrency model in §5
// ("Receiver thread(s) ... push through certification, then release to N
// applier threads").
type Replicator struct {
	transport Transport
	gc        *gcache.GCache
	cert      *cert.Engine
	monitors  *monitor.Set
	defrags   *defrag.Registry

	logger *logging.Logger

	mu      sync.Mutex
	byG     map[seqno.Global]*pending
	lastG   int64 // atomic, accessed via seqno.Global(atomic.LoadInt64(...))
	quit    chan struct{}
	wg      sync.WaitGroup

	// nboBegins tracks, per connection, the g of that connection's open
	// F_NBO_BEGIN write-set, so a later F_NBO_END on the same connection
	// can supply cert.Input.NBOKey without the engine exposing its
	// internal activeNBO table to callers.
	nboBegins map[seqno.ConnID]seqno.Global

	// waiters correlates a Replicate call with the delivery the total
	// order eventually assigns it, keyed by the (source, conn, trx)
	// triple the caller already stamped into the write-set header - the
	// receiver loop sees every member's deliveries, including this
	// node's own broadcast, so the g isn't known until it comes back
	// through that loop.
	waiters map[correlationKey]chan seqno.Global
}

type correlationKey struct {
	source seqno.NodeID
	conn   seqno.ConnID
	trx    seqno.TrxID
}

func keyOf(h writeset.Header) correlationKey {
	return correlationKey{source: h.Source, conn: h.ConnID, trx: h.TrxID}
}

type pending struct {
	handle     gcache.Handle
	ws         *writeset.WriteSet
	certResult cert.Result
	certDone   chan struct{}
}

// New constructs a Replicator over already-constructed subsystems; the
// caller is expected to have started gc's service thread separately.
func New(transport Transport, gc *gcache.GCache, engine *cert.Engine, monitors *monitor.Set, defrags *defrag.Registry) *Replicator {
	return &Replicator{
		transport: transport,
		gc:        gc,
		cert:      engine,
		monitors:  monitors,
		defrags:   defrags,
		logger:    logging.GetLogger("replicator"),
		byG:       make(map[seqno.Global]*pending),
		nboBegins: make(map[seqno.ConnID]seqno.Global),
		waiters:   make(map[correlationKey]chan seqno.Global),
		quit:      make(chan struct{}),
	}
}

// Start launches the receiver loop that drains the transport, feeds the
// Defragmenter, allocates GCache buffers and pushes completed actions
// through certification and the local monitor (§5 "Receiver thread(s)").
func (r *Replicator) Start() {
	r.wg.Add(1)
	go r.receiveLoop()
}

// Stop signals the receiver loop to exit and waits for it to do so.
func (r *Replicator) Stop() {
	close(r.quit)
	r.wg.Wait()
}

func (r *Replicator) receiveLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case d, ok := <-r.transport.Deliveries():
			if !ok {
				return
			}
			r.handleDelivery(d)
		}
	}
}

func (r *Replicator) handleDelivery(d Delivery) {
	df := r.defrags.For(d.Source)
	full, complete, err := df.Handle(d.Frag, false)
	if err != nil {
		r.logger.Warn("defrag failed, dropping delivery", "source", d.Source, "g", d.G, "err", err)
		return
	}
	if !complete {
		return
	}

	ws, err := writeset.Unserialize(full)
	if err != nil {
		r.logger.Error("malformed write-set", "g", d.G, "err", err)
		return
	}

	h, plaintext, err := r.gc.Malloc(len(full))
	if err != nil {
		r.logger.Error("gcache malloc failed", "g", d.G, "err", err)
		return
	}
	copy(plaintext, full)
	if err := r.gc.SeqnoAssign(h, d.G); err != nil {
		r.logger.Error("seqno_assign failed", "g", d.G, "err", err)
		return
	}

	keys, err := keyRefsOf(ws)
	if err != nil {
		r.logger.Error("key set decode failed", "g", d.G, "err", err)
		return
	}

	r.mu.Lock()
	nboKey := r.nboBegins[ws.Header.ConnID]
	r.mu.Unlock()

	result := r.cert.Certify(cert.Input{
		Source:    d.Source,
		G:         d.G,
		LastSeenG: ws.Header.LastSeenG,
		Flags:     ws.Header.Flags,
		Keys:      keys,
		NBOKey:    nboKey,
	})

	p := &pending{handle: h, ws: ws, certResult: result, certDone: make(chan struct{})}
	r.mu.Lock()
	r.byG[d.G] = p
	if result.Verdict == cert.OK {
		switch {
		case ws.Header.Flags.Has(writeset.FNBOBegin):
			r.nboBegins[ws.Header.ConnID] = d.G
		case ws.Header.Flags.Has(writeset.FNBOEnd):
			delete(r.nboBegins, ws.Header.ConnID)
		}
	}
	r.mu.Unlock()
	atomic.StoreInt64(&r.lastG, int64(d.G))
	close(p.certDone)

	if result.Verdict == cert.OK {
		metrics.ObserveCertVerdict("ok")
	} else {
		metrics.ObserveCertVerdict("failed")
	}
	metrics.SetCertIndexSize(r.cert.Index().Len())

	if _, err := r.monitors.Local.Enter(context.Background(), d.G, d.G-1); err != nil {
		r.monitors.Local.SelfCancel(d.G)
	} else {
		r.monitors.Local.Leave(d.G)
	}

	// Wake anyone blocked in Replicate on this exact write-set only once
	// the local monitor has actually admitted it (§4.7), whether or not
	// this node originated it.
	r.mu.Lock()
	key := keyOf(ws.Header)
	if ch, ok := r.waiters[key]; ok {
		delete(r.waiters, key)
		ch <- d.G
	}
	r.mu.Unlock()
}

// keyRefsOf decodes a write-set's KeySet section into the cert.KeyRef
// slice the engine certifies against, undoing the wsVer-dependent prefix
// collapsing KeySetOut applied on the wire (§3, §4.1). The part with
// fingerprint 0 is the zero-level key - the one KeySetOut emits for an
// empty path, the chain-hash seed every other part hashes away from - so
// it is always exactly one part, never a false positive off a real leaf.
func keyRefsOf(ws *writeset.WriteSet) ([]cert.KeyRef, error) {
	parts, err := keyset.NewIn(ws.Keys).All()
	if err != nil {
		return nil, err
	}
	refs := make([]cert.KeyRef, len(parts))
	for i, kp := range parts {
		refs[i] = cert.KeyRef{
			FP:        kp.Fingerprint(),
			Strength:  keyset.StrengthFromPrefix(kp.Prefix, ws.Header.Version),
			ZeroLevel: kp.Fingerprint() == 0,
		}
	}
	return refs, nil
}

// Replicate serializes ws, broadcasts it and blocks until the local
// monitor has admitted the seqno the transport assigns it (§4.7:
// "replicate(ws) -> status: ... returns once the local monitor has
// admitted the assigned g"). ws.Header.Source/ConnID/TrxID must already
// identify this write-set uniquely - the receiver loop uses that triple
// to recognize this broadcast when it comes back through the total
// order, since the transport alone doesn't hand the assigned g back to
// the caller that broadcast it.
func (r *Replicator) Replicate(ctx context.Context, ws *writeset.WriteSet) (Status, error) {
	key := keyOf(ws.Header)
	ch := make(chan seqno.Global, 1)

	r.mu.Lock()
	r.waiters[key] = ch
	r.mu.Unlock()

	payload, _ := ws.Serialize(nil)
	if err := r.broadcastWithRetry(ctx, payload); err != nil {
		r.mu.Lock()
		delete(r.waiters, key)
		r.mu.Unlock()
		return Status{}, err
	}

	select {
	case g := <-ch:
		r.mu.Lock()
		p, ok := r.byG[g]
		r.mu.Unlock()
		var h gcache.Handle
		if ok {
			h = p.handle
		}
		return Status{G: g, Handle: h}, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, key)
		r.mu.Unlock()
		return Status{}, ctx.Err()
	}
}

// broadcastWithRetry retries a transient transport failure (flow control,
// no quorum, momentary disconnect - §7's ClassTransient) with capped
// exponential backoff; a protocol or fatal error is returned immediately,
// since retrying a malformed broadcast can't help.
func (r *Replicator) broadcastWithRetry(ctx context.Context, payload []byte) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		err := r.transport.Broadcast(ctx, payload)
		if err != nil && xerrors.ClassOf(err) != xerrors.ClassTransient {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// PreCommit waits for the certification result the receiver loop
// computed for g and, on a PASS, blocks on the apply monitor until g's
// depends_seqno has left, then returns that result (§4.7). A FAILED
// verdict self-cancels the apply and commit monitors and returns
// ErrCertFailed.
func (r *Replicator) PreCommit(ctx context.Context, g seqno.Global) (cert.Result, error) {
	r.mu.Lock()
	p, ok := r.byG[g]
	r.mu.Unlock()
	if !ok {
		return cert.Result{}, xerrors.WithContext(xerrors.ErrBadFileHandle, "replicator: unknown seqno in pre_commit")
	}
	<-p.certDone

	if p.certResult.Verdict != cert.OK {
		r.monitors.Apply.SelfCancel(g)
		r.monitors.Commit.SelfCancel(g)
		return p.certResult, xerrors.WithContext(xerrors.ErrCertFailed, "replicator: certification failed")
	}

	if _, err := r.monitors.Apply.Enter(ctx, g, p.certResult.DependsSeqno); err != nil {
		r.monitors.Apply.SelfCancel(g)
		r.monitors.Commit.SelfCancel(g)
		return p.certResult, err
	}
	return p.certResult, nil
}

// PostCommit leaves the commit monitor and releases the write-set's
// GCache buffer (§4.7).
func (r *Replicator) PostCommit(ctx context.Context, g seqno.Global) error {
	if _, err := r.monitors.Commit.Enter(ctx, g, 0); err != nil {
		return err
	}
	r.monitors.Apply.Leave(g)
	r.monitors.Commit.Leave(g)

	r.mu.Lock()
	p, ok := r.byG[g]
	delete(r.byG, g)
	r.mu.Unlock()
	if ok {
		r.gc.Free(p.handle)
	}
	return r.gc.SeqnoRelease(g)
}

// ToExecuteStart is PreCommit specialized for a TOI write-set: it enters
// both the apply and commit monitors so the execution window is
// serialized against every other transaction (§4.7 "to_execute_start/end
// ... wrappers that treat the write-set as TOI").
func (r *Replicator) ToExecuteStart(ctx context.Context, g seqno.Global) (cert.Result, error) {
	res, err := r.PreCommit(ctx, g)
	if err != nil {
		return res, err
	}
	if _, err := r.monitors.Commit.Enter(ctx, g, 0); err != nil {
		return res, err
	}
	return res, nil
}

// ToExecuteEnd mirrors PostCommit but does not re-enter the commit
// monitor, since ToExecuteStart already did.
func (r *Replicator) ToExecuteEnd(g seqno.Global) error {
	r.monitors.Apply.Leave(g)
	r.monitors.Commit.Leave(g)

	r.mu.Lock()
	p, ok := r.byG[g]
	delete(r.byG, g)
	r.mu.Unlock()
	if ok {
		r.gc.Free(p.handle)
	}
	return r.gc.SeqnoRelease(g)
}

// LastObservedSeqno returns the highest g the receiver loop has seen so
// far, letting a caller get a cheap (non-blocking) lower bound on group
// progress without a full CausalRead round-trip.
func (r *Replicator) LastObservedSeqno() seqno.Global {
	return seqno.Global(atomic.LoadInt64(&r.lastG))
}

// CausalRead issues a no-op totally-ordered probe and returns the g it
// was assigned once the local monitor has admitted it, giving the caller
// a read-your-writes bound (§4.7). The probe is certified by the receiver
// loop like any other delivery; CausalRead does not enter the apply or
// commit monitors.
func (r *Replicator) CausalRead(ctx context.Context, probe *writeset.WriteSet) (seqno.Global, error) {
	status, err := r.Replicate(ctx, probe)
	if err != nil {
		return seqno.None, err
	}
	return status.G, nil
}
