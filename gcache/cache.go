package gcache

import (
	"sync"

	"github.com/codership-go/galera-cert/common/logging"
	"github.com/codership-go/galera-cert/common/xerrors"
	"github.com/codership-go/galera-cert/seqno"
)

// Handle is the opaque buffer handle returned by Malloc/Realloc and
// consumed by every other public operation (§4.6).
type Handle = *Buffer

// Config bundles the tunables a GCache instance is constructed from
// (§4.6, §5 "Memory"): the three tier budgets, page directory/size,
// plaintext shadow budget and whether at-rest encryption is active.
type Config struct {
	MemSize           int
	RingSize          int
	PageDir           string
	PageSize          int
	KeepPagesSize     int
	ShadowBudget      uint64
	Encrypted         bool
	Cipher            PageCipher
	EncKey            []byte
	Recover           bool
	OnLastApplied     func(seqno.Global)
	OnDeletePage      func(name string)
}

// GCache is the content-addressed buffer store owning write-set payloads
// between delivery and release (§3 "GCache Buffer", §4.6). Grounded on
// GCache.cpp/GCache_memops.cpp: malloc tries the heap store first, then
// the ring buffer, falling back to the page store; encrypted mode
// allocates only from the page store, since the at-rest cipher's
// key-injection contract only applies there.
type GCache struct {
	mu sync.Mutex

	mem       *memStore
	ring      *ringBuffer
	pageStore *pageStore
	seqnos    *seqno2ptr
	shadow    *shadowCache

	encrypted    bool
	shadowBudget uint64

	pinned  map[seqno.Global]int32 // refcount from seqno_get_ptr pins
	pending map[seqno.Global]bool  // release requested while still pinned

	svc    *serviceThread
	logger *logging.Logger
}

// New constructs a GCache instance from cfg. When cfg.Recover is set and
// encryption is disabled, the page store is scanned to rebuild seqno2ptr
// before the instance is returned (§4.6 "Recovery").
func New(cfg Config) (*GCache, error) {
	cipher := cfg.Cipher
	if cipher == nil {
		cipher = noCipher{}
	}
	if _, bare := cipher.(noCipher); cfg.Encrypted && bare {
		return nil, xerrors.WithContext(xerrors.ErrEncryptFailure, "gcache: encrypted mode requires a cipher")
	}

	gc := &GCache{
		mem:       newMemStore(cfg.MemSize),
		ring:      newRingBuffer(cfg.RingSize),
		pageStore: newPageStore(cfg.PageDir, cfg.PageSize, cfg.KeepPagesSize, cipher),
		seqnos:    newSeqno2Ptr(),
		// (pageStore.key is set just below when cfg.EncKey is supplied)
		encrypted:    cfg.Encrypted,
		shadowBudget: cfg.ShadowBudget,
		pinned:       make(map[seqno.Global]int32),
		pending:      make(map[seqno.Global]bool),
		logger:       logging.GetLogger("gcache"),
	}
	if cfg.Encrypted {
		gc.shadow = newShadowCache(cfg.ShadowBudget)
		gc.pageStore.key = cfg.EncKey
	}
	gc.svc = newServiceThread(gc, cfg.OnLastApplied, cfg.OnDeletePage)

	if cfg.Recover && !cfg.Encrypted {
		if err := recoverPages(gc); err != nil {
			return nil, err
		}
	} else {
		if _, err := gc.pageStore.newPageFor(0); err != nil {
			return nil, err
		}
	}
	return gc, nil
}

// Start launches the background service thread.
func (gc *GCache) Start() error { return gc.svc.Start() }

// Stop signals the service thread to exit.
func (gc *GCache) Stop() { gc.svc.Stop() }

// Malloc allocates size plaintext bytes, trying the heap store then the
// ring buffer before falling through to the page store; encrypted
// instances skip straight to the page store (§4.6).
func (gc *GCache) Malloc(size int) (Handle, []byte, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.allocLocked(size)
}

func (gc *GCache) allocLocked(size int) (Handle, []byte, error) {
	if gc.encrypted {
		b, err := gc.pageStore.alloc(size)
		if err != nil {
			return nil, nil, err
		}
		return b, b.plaintext, nil
	}
	if b, ok := gc.mem.alloc(size); ok {
		return b, b.plaintext, nil
	}
	if b, _, ok := gc.ring.alloc(size); ok {
		return b, b.plaintext, nil
	}
	b, err := gc.pageStore.alloc(size)
	if err != nil {
		return nil, nil, err
	}
	return b, b.plaintext, nil
}

// Realloc grows or shrinks h in place when it is the most recent
// allocation in its store and the new size fits; otherwise it allocates
// fresh and copies, matching the original's realloc() fallback.
func (gc *GCache) Realloc(h Handle, size int) (Handle, []byte, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	switch h.Store {
	case InMem:
		if b, ok := gc.mem.realloc(h, size); ok {
			return b, b.plaintext, nil
		}
	case InRB:
		if b, ok := gc.ring.realloc(h.ringOff, h.Size(), size); ok {
			return b, b.plaintext, nil
		}
	}

	nh, plaintext, err := gc.allocLocked(size)
	if err != nil {
		return nil, nil, err
	}
	copy(plaintext, h.plaintext)
	gc.freeLocked(h)
	return nh, plaintext, nil
}

// Free marks h released before any seqno is bound to it (e.g. a
// certification failure discarding an unassigned buffer); storage is
// reclaimed immediately since no seqno-ordering constraint applies yet.
func (gc *GCache) Free(h Handle) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.freeLocked(h)
}

func (gc *GCache) freeLocked(h Handle) {
	if h.released {
		return
	}
	h.released = true
	switch h.Store {
	case InMem:
		gc.mem.free(h)
	case InRB:
		gc.ring.free(h.ringOff, h.Size())
	case InPage:
		gc.pageStore.free(h)
	}
}

// SeqnoAssign binds h to g, recording it in seqno2ptr (§4.6). g must be
// exactly one past the highest g assigned so far.
func (gc *GCache) SeqnoAssign(h Handle, g seqno.Global) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if newest := gc.seqnos.newest(); newest != seqno.None && g != newest+1 {
		return xerrors.WithContext(xerrors.ErrIndexCorrupt, "gcache: seqno_assign out of order")
	}
	h.Header.Seqno = g
	h.Header.Store = h.Store
	if h.Store == InPage && h.page != nil {
		writeHeaderAt(h.page.data, h.pageOff, h.Header)
	}
	gc.seqnos.assign(g, h)
	if gc.encrypted {
		// the payload written through Malloc has not been sealed yet, so
		// the shadow starts out changed and DropPlaintext flushes it
		gc.shadow.put(g, h)
		gc.shadow.markChanged(g)
	}
	return nil
}

// SeqnoRelease marks the buffer assigned to g released, returning its
// storage to the owning tier unless Free already did, and drops any
// contiguous run of released buffers starting at the oldest still-tracked
// seqno from the seqno index (§4.6 "Recovery", invariant "seqno_released
// advances monotonically by exactly 1").
func (gc *GCache) SeqnoRelease(g seqno.Global) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	_, ok := gc.seqnos.get(g)
	if !ok {
		return xerrors.WithContext(xerrors.ErrBadFileHandle, "gcache: seqno_release of unknown seqno")
	}
	if gc.pinned[g] > 0 {
		// still pinned by an outstanding seqno_get_ptr; ReleasePtr
		// finishes the release once the last pin drops.
		gc.pending[g] = true
		return nil
	}
	gc.finishReleaseLocked(g)
	return nil
}

func (gc *GCache) finishReleaseLocked(g seqno.Global) {
	b, ok := gc.seqnos.get(g)
	if !ok {
		return
	}
	// marks b released and returns its storage, unless Free already did
	gc.freeLocked(b)
	delete(gc.pending, g)
	gc.seqnos.discardReleased()
	gc.pageStore.cleanup()
}

// ReleasePtr drops a pin taken by SeqnoGetPtr, completing a deferred
// SeqnoRelease if the last pin on g has just been released.
func (gc *GCache) ReleasePtr(g seqno.Global) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.pinned[g] > 0 {
		gc.pinned[g]--
	}
	if gc.pinned[g] == 0 {
		delete(gc.pinned, g)
		if gc.pending[g] {
			gc.finishReleaseLocked(g)
		}
	}
}

// SeqnoGetPtr retrieves the buffer assigned to g, pinning it against
// discard until a matching ReleasePtr call (§4.6).
func (gc *GCache) SeqnoGetPtr(g seqno.Global) (Handle, int, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	b, ok := gc.seqnos.get(g)
	if !ok {
		return nil, 0, xerrors.WithContext(xerrors.ErrBadFileHandle, "gcache: seqno_get_ptr of unknown seqno")
	}
	gc.pinned[g]++
	return b, b.Size(), nil
}

// SeqnoGetBuffers bulk-retrieves up to len(out) consecutive buffers
// starting at start, for the snapshot-transfer sender (§5 "IST
// sender/receiver threads").
func (gc *GCache) SeqnoGetBuffers(start seqno.Global, out []Handle) int {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	n := 0
	for n < len(out) {
		b, ok := gc.seqnos.get(start + seqno.Global(n))
		if !ok {
			break
		}
		out[n] = b
		n++
	}
	return n
}

// SetEncKey rotates the at-rest key (§4.6): a new page is opened whose
// key record uses the new key, and the instance becomes encrypted if it
// was not already.
func (gc *GCache) SetEncKey(key []byte) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if err := gc.pageStore.setEncKey(key); err != nil {
		return err
	}
	if !gc.encrypted {
		gc.encrypted = true
		gc.shadow = newShadowCache(gc.shadowBudget)
	}
	return nil
}

// GetROPlaintext returns a read-only view of h's plaintext, decrypting
// and caching a shadow copy first if this is an encrypted page-store
// buffer whose shadow has been dropped.
func (gc *GCache) GetROPlaintext(h Handle) ([]byte, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.residentPlaintextLocked(h)
}

// GetRWPlaintext is as GetROPlaintext but marks the shadow changed so a
// later DropPlaintext flushes it back through the cipher before
// reclaiming it.
func (gc *GCache) GetRWPlaintext(h Handle) ([]byte, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	pt, err := gc.residentPlaintextLocked(h)
	if err != nil {
		return nil, err
	}
	if gc.encrypted && h.Store == InPage {
		gc.shadow.markChanged(h.Header.Seqno)
	}
	return pt, nil
}

// residentPlaintextLocked returns h's plaintext, decrypting it from the
// page's ciphertext and re-registering a shadow entry first if this is
// an encrypted page-store buffer whose shadow was previously dropped.
func (gc *GCache) residentPlaintextLocked(h Handle) ([]byte, error) {
	if !gc.encrypted || h.Store != InPage {
		return h.plaintext, nil
	}
	if _, ok := gc.shadow.get(h.Header.Seqno); ok {
		return h.plaintext, nil
	}
	pt, err := h.page.decrypt(h)
	if err != nil {
		return nil, err
	}
	h.plaintext = pt
	gc.shadow.put(h.Header.Seqno, h)
	return h.plaintext, nil
}

// DropPlaintext releases h's decrypted shadow in encrypted mode, flushing
// it back through the cipher first if it was written to via
// GetRWPlaintext, then discarding the plaintext bytes entirely (§5
// "Plaintext Shadow").
func (gc *GCache) DropPlaintext(h Handle) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if !gc.encrypted || h.Store != InPage {
		return
	}
	gc.shadow.drop(h.Header.Seqno, h.pageOff)
	h.plaintext = nil
}

// Meta returns a short diagnostic description of h, mirroring the
// original's meta() debug helper.
func (gc *GCache) Meta(h Handle) string {
	return h.Store.String()
}
