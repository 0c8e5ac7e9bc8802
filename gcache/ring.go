package gcache

import "github.com/codership-go/galera-cert/common/xerrors"

// ringBuffer is tier 2 (§4.6): a single fixed-capacity buffer used as a
// ring, supporting in-place realloc of the most recent allocation and
// bump-pointer allocation that wraps around once the tail reaches
// capacity. The original implementation backs this with a memory-mapped
// file; no pack library provides an mmap binding, so this is backed by
// a plain preallocated byte slice instead (see DESIGN.md) - the
// allocation/wrap/reclaim algorithm is unchanged either way, since the
// original's ring logic operates on the mapping's address range exactly
// like bump-pointer arithmetic over a slice.
type ringBuffer struct {
	data []byte
	head int // start of oldest still-allocated region
	tail int // next write position

	// freed holds offset->size for regions already released but not yet
	// reachable from head (head can only advance over a contiguous run
	// of freed regions starting exactly at head).
	freed map[int]int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		data:  make([]byte, capacity),
		freed: make(map[int]int),
	}
}

// alloc reserves bhSize(size) contiguous bytes, wrapping to the start of
// the ring if the tail doesn't have room and the head has since freed
// enough leading space.
func (r *ringBuffer) alloc(size int) (*Buffer, int, bool) {
	need := bhSize(size)
	if need > len(r.data) {
		return nil, 0, false
	}

	if r.tail+need <= len(r.data) {
		off := r.tail
		r.tail += need
		return r.bufferAt(off, size), off, true
	}

	// wrap: the unused tail remainder is treated as already-freed so
	// head can walk past it once it catches up.
	if r.tail < len(r.data) {
		r.freed[r.tail] = len(r.data) - r.tail
	}
	if r.head < need {
		return nil, 0, false
	}
	off := 0
	r.tail = need
	return r.bufferAt(off, size), off, true
}

func (r *ringBuffer) bufferAt(off, size int) *Buffer {
	return &Buffer{
		Store:     InRB,
		plaintext: r.data[off+headerSize : off+headerSize+size],
		ringOff:   off,
		ringSize:  size,
	}
}

// realloc grows the most recently allocated buffer in place when it is
// both the latest allocation and the new size still fits before
// capacity; otherwise it fails and the caller must allocate fresh and
// copy.
func (r *ringBuffer) realloc(off, oldSize, newSize int) (*Buffer, bool) {
	if off+bhSize(oldSize) != r.tail {
		return nil, false
	}
	need := bhSize(newSize)
	if off+need > len(r.data) {
		return nil, false
	}
	r.tail = off + need
	return r.bufferAt(off, newSize), true
}

// free releases the region at off,size, advancing head over any
// contiguous run of freed regions that now starts at head.
func (r *ringBuffer) free(off, size int) {
	r.freed[off] = bhSize(size)
	for {
		n, ok := r.freed[r.head]
		if !ok {
			break
		}
		delete(r.freed, r.head)
		r.head += n
		if r.head >= len(r.data) {
			r.head -= len(r.data)
		}
	}
}

var errStoreFull = xerrors.WithContext(xerrors.ErrOutOfMemory, "gcache: store has no room for this allocation")
