// Package gcache implements the content-addressed buffer store that
// owns serialized write-sets between delivery, certification, replay
// and snapshot transfer (§4.6), grounded on gcache/src/GCache.cpp,
// GCache_memops.cpp, gcache_page.cpp and gcache_page_store.cpp.
package gcache

import (
	"encoding/binary"

	"github.com/codership-go/galera-cert/seqno"
)

// StoreTag identifies which of the three backing stores owns a buffer.
type StoreTag uint8

const (
	InMem StoreTag = iota
	InRB
	InPage
)

func (t StoreTag) String() string {
	switch t {
	case InMem:
		return "IN_MEM"
	case InRB:
		return "IN_RB"
	case InPage:
		return "IN_PAGE"
	default:
		return "IN_UNKNOWN"
	}
}

// BufferHeader is the on-disk/in-ring sentinel preceding every payload
// (§3 "GCache Buffer", §4.6 "Page store algorithm"). The last page in a
// chain writes an empty BufferHeader (Size==0) at close() to mark the
// end for recovery.
type BufferHeader struct {
	Size  uint32
	Seqno seqno.Global
	Store StoreTag
	Flags uint8
}

// headerSize is BH_size(0): every allocation reserves this many bytes
// ahead of the payload.
const headerSize = 4 + 8 + 1 + 1

// bhSize rounds the requested payload size up to account for the
// header, matching the original's BH_size() helper.
func bhSize(payload int) int {
	return headerSize + payload
}

// Buffer is a GCache-owned write-set buffer handle (§3 "GCache Buffer").
// The zero value is not usable; buffers are only created by GCache's
// allocation paths.
type Buffer struct {
	Header BufferHeader
	Store  StoreTag

	plaintext []byte // writable view; for unencrypted stores this is the only copy
	ciphertext []byte // page-store on-disk bytes when encryption is active; nil otherwise

	released bool
	refs     int32

	// page is set only for InPage buffers, identifying the owning page
	// for used-count bookkeeping and recovery.
	page *page

	// ringOff/ringSize locate an InRB buffer within ringBuffer.data for
	// realloc/free; unused for other stores.
	ringOff  int
	ringSize int

	// pageOff locates an InPage buffer's BufferHeader within its page's
	// data, for header patching (seqno_assign) and plaintext re-encryption
	// (flush); unused for other stores.
	pageOff int
}

// writeHeaderAt serializes h into data at off, the on-disk layout
// BufferHeader/recovery rely on: a little-endian Size, a little-endian
// Seqno, then Store and Flags as single bytes.
func writeHeaderAt(data []byte, off int, h BufferHeader) {
	binary.LittleEndian.PutUint32(data[off:off+4], h.Size)
	binary.LittleEndian.PutUint64(data[off+4:off+12], uint64(h.Seqno))
	data[off+12] = byte(h.Store)
	data[off+13] = h.Flags
}

// readHeaderAt deserializes the BufferHeader at off.
func readHeaderAt(data []byte, off int) BufferHeader {
	return BufferHeader{
		Size:  binary.LittleEndian.Uint32(data[off : off+4]),
		Seqno: seqno.Global(binary.LittleEndian.Uint64(data[off+4 : off+12])),
		Store: StoreTag(data[off+12]),
		Flags: data[off+13],
	}
}

// Size returns the buffer's payload size in bytes.
func (b *Buffer) Size() int { return len(b.plaintext) }
