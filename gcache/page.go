package gcache

import (
	"crypto/rand"
	"fmt"

	"github.com/codership-go/galera-cert/common/xerrors"
	"github.com/codership-go/galera-cert/seqno"
)

// encKey is the opaque at-rest key handed in via set_enc_key (§4.6).
type encKey []byte

// page is one append-only page-file allocation arena (§3 "GCache
// Page", §4.6 "Page store algorithm"). Grounded on gcache_page.cpp/
// gcache_page.hpp's Page class; backed here by an in-memory byte slice
// standing in for the original's memory-mapped file (see ringBuffer's
// doc comment and DESIGN.md).
type page struct {
	name  string
	data  []byte
	next  int // bump-pointer allocation offset
	used  int32
	nonce []byte // random per-page IV; per-offset nonce = nonce + offset (addition)

	cipher PageCipher
	key    encKey
}

// newPage creates a page of the given capacity, writing its first
// allocation as the encryption key record: a small ciphertext buffer
// whose payload, once decrypted, is the current at-rest key. Recovery
// walks these records to reconstruct the key chain (§4.6).
func newPage(name string, capacity int, cipher PageCipher, key encKey) (*page, error) {
	p := &page{
		name:   name,
		data:   make([]byte, capacity),
		cipher: cipher,
		key:    key,
	}
	p.nonce = make([]byte, max(cipher.NonceSize(), 1))
	if _, err := rand.Read(p.nonce); err != nil {
		return nil, xerrors.WithContext(xerrors.ErrOutOfMemory, "gcache: failed to generate page nonce")
	}

	if len(key) > 0 {
		if _, err := p.writeKeyRecord(key); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// nonceFor derives the per-offset nonce: the page's random base nonce
// plus the offset, added as an integer (§4.6: "combination (key,
// nonce+offset) must be unique across all pages ever written with the
// same key").
func (p *page) nonceFor(offset int) []byte {
	n := append([]byte(nil), p.nonce...)
	carry := uint64(offset)
	for i := len(n) - 1; i >= 0 && carry > 0; i-- {
		sum := uint64(n[i]) + carry
		n[i] = byte(sum)
		carry = sum >> 8
	}
	return n
}

func (p *page) writeKeyRecord(key encKey) (int, error) {
	off := p.next
	ciphertext := p.cipher.Seal(nil, key, p.nonceFor(off), key)
	need := bhSize(len(ciphertext))
	if p.next+need > len(p.data) {
		return 0, xerrors.WithContext(xerrors.ErrOutOfMemory, "gcache: page too small for key record")
	}
	// Seqno stays None: a key record is not a live write-set buffer, so
	// recovery's scan re-links nothing for it but still steps past it
	// using its Size.
	writeHeaderAt(p.data, off, BufferHeader{Size: uint32(len(ciphertext)), Seqno: seqno.None, Store: InPage})
	copy(p.data[off+headerSize:off+headerSize+len(ciphertext)], ciphertext)
	p.next += need
	return off, nil
}

// alloc reserves size plaintext bytes. When a real cipher is wired in,
// the page reserves size+Overhead() bytes on top of the header for the
// ciphertext and its authentication tag; the plaintext itself lives only
// in the returned Buffer (and, while resident, the plaintext shadow
// cache), never in page.data.
func (p *page) alloc(size int) (*Buffer, bool) {
	_, bare := p.cipher.(noCipher)
	onDisk := size
	if !bare {
		onDisk = size + p.cipher.Overhead()
	}
	need := bhSize(onDisk)
	if p.next+need > len(p.data) {
		return nil, false
	}
	off := p.next
	p.next += need
	p.used++

	// Seqno is not yet known; seqno_assign patches this header in place
	// once it is. A page that closes (see close()) before every buffer's
	// seqno is patched simply leaves None there, which recovery treats as
	// "not live".
	writeHeaderAt(p.data, off, BufferHeader{Size: uint32(size), Seqno: seqno.None, Store: InPage})

	// Without a cipher the payload lives in place in page.data, so the
	// plaintext and the on-page bytes coincide.
	plain := p.data[off+headerSize : off+headerSize+size]
	if !bare {
		plain = make([]byte, size)
	}
	b := &Buffer{Header: BufferHeader{Size: uint32(size), Seqno: seqno.None, Store: InPage}, Store: InPage, plaintext: plain, page: p, pageOff: off}
	if !bare {
		b.ciphertext = p.data[off+headerSize : off+headerSize+onDisk]
	}
	return b, true
}

// flush encrypts b's current plaintext into its page slot (used before
// dropping a changed plaintext shadow, §5 "Plaintext Shadow").
func (p *page) flush(b *Buffer, offsetInPage int) {
	if _, ok := p.cipher.(noCipher); ok {
		return
	}
	ciphertext := p.cipher.Seal(nil, p.key, p.nonceFor(offsetInPage), b.plaintext)
	copy(b.ciphertext, ciphertext)
}

// decrypt recovers b's plaintext from its on-page ciphertext, used when
// GetROPlaintext/GetRWPlaintext finds the shadow has been dropped.
func (p *page) decrypt(b *Buffer) ([]byte, error) {
	if _, ok := p.cipher.(noCipher); ok {
		return b.plaintext, nil
	}
	return p.cipher.Open(nil, p.key, p.nonceFor(b.pageOff), b.ciphertext)
}

func (p *page) release(b *Buffer) {
	if p.used > 0 {
		p.used--
	}
}

func (p *page) full(reserve int) bool {
	return p.next+bhSize(reserve) > len(p.data)
}

// close writes the empty BufferHeader sentinel recovery relies on to
// find the end of a page's live allocations (§3 "GCache Page").
func (p *page) close() {
	if p.next+headerSize <= len(p.data) {
		p.next += headerSize // Size field left zero: the sentinel
	}
}

func pageName(dir string, count int) string {
	if dir == "" {
		return fmt.Sprintf("gcache.page.%06d", count)
	}
	return fmt.Sprintf("%s/gcache.page.%06d", dir, count)
}
