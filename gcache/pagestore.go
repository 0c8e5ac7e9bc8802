package gcache

import (
	"github.com/gammazero/deque"

	"github.com/codership-go/galera-cert/common/xerrors"
)

// pageStore is tier 3 (§4.6): an ordered sequence of append-only page
// files, growing a new page whenever the current one cannot satisfy an
// allocation, grounded on gcache_page_store.cpp.
type pageStore struct {
	dir      string
	pageSize int
	keepSize int
	cipher   PageCipher

	pages      *deque.Deque[*page]
	totalBytes int
	count      int
	key        encKey

	// deleteQ holds pages whose file should be unlinked once used==0;
	// drained by the GCache service thread (§5 "Service thread"),
	// mirroring the original's dedicated page-deletion worker.
	deleteQ *deque.Deque[string]
}

func newPageStore(dir string, pageSize, keepSize int, cipher PageCipher) *pageStore {
	return &pageStore{
		dir:      dir,
		pageSize: pageSize,
		keepSize: keepSize,
		cipher:   cipher,
		pages:    deque.New[*page](0, 64),
		deleteQ:  deque.New[string](0, 64),
	}
}

func (ps *pageStore) current() *page {
	if ps.pages.Len() == 0 {
		return nil
	}
	return ps.pages.Back()
}

// newPageFor creates a page sized to hold at least reserve bytes plus
// the key record overhead, appends it, and returns it.
func (ps *pageStore) newPageFor(reserve int) (*page, error) {
	size := ps.pageSize
	minSize := headerSize + bhSize(len(ps.key)) + bhSize(reserve)
	if minSize > size {
		size = minSize
	}
	p, err := newPage(pageName(ps.dir, ps.count), size, ps.cipher, ps.key)
	if err != nil {
		return nil, err
	}
	ps.count++
	ps.pages.PushBack(p)
	ps.totalBytes += size
	return p, nil
}

// alloc satisfies an allocation from the current page, opening a new
// one if needed.
func (ps *pageStore) alloc(size int) (*Buffer, error) {
	p := ps.current()
	if p == nil || p.full(size) {
		if p != nil {
			p.close()
		}
		var err error
		p, err = ps.newPageFor(size)
		if err != nil {
			return nil, err
		}
	}
	b, ok := p.alloc(size)
	if !ok {
		return nil, errStoreFull
	}
	return b, nil
}

// setEncKey rotates the at-rest key: per §4.6, on key change a new page
// is created whose key record uses the new key.
func (ps *pageStore) setEncKey(key encKey) error {
	ps.key = key
	if p := ps.current(); p != nil {
		p.close()
	}
	_, err := ps.newPageFor(0)
	return err
}

// free decrements a buffer's owning page's use count.
func (ps *pageStore) free(b *Buffer) {
	if b.page != nil {
		b.page.release(b)
	}
}

// knownPageNames returns the names of pages already resident in this
// store, in oldest-first order. Recovery (recovery.go) walks these: since
// pages here are backed by an in-process byte slice rather than an actual
// memory-mapped file (see ring.go's doc comment), "recovering" page
// contents across a process restart isn't meaningful, but the same
// header-walking algorithm applies whenever a store is reopened with
// pages still resident (e.g. reattaching after a soft stop).
func (ps *pageStore) knownPageNames() []string {
	names := make([]string, 0, ps.pages.Len())
	for i := 0; i < ps.pages.Len(); i++ {
		names = append(names, ps.pages.At(i).name)
	}
	return names
}

// openExisting returns the already-resident page with the given name.
func (ps *pageStore) openExisting(name string) (*page, error) {
	for i := 0; i < ps.pages.Len(); i++ {
		if p := ps.pages.At(i); p.name == name {
			return p, nil
		}
	}
	return nil, xerrors.WithContext(xerrors.ErrBadFileHandle, "gcache: unknown page in recovery scan")
}

// cleanup deletes pages from the front of the queue while they are
// unused and the store is over its keep_size budget (§4.6).
func (ps *pageStore) cleanup() {
	for ps.pages.Len() > 0 && ps.totalBytes > ps.keepSize {
		front := ps.pages.Front()
		if front.used > 0 || front == ps.current() {
			break
		}
		ps.pages.PopFront()
		ps.totalBytes -= len(front.data)
		ps.deleteQ.PushBack(front.name)
	}
}
