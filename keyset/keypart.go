package keyset

import (
	"encoding/binary"
	"fmt"

	"github.com/codership-go/galera-cert/common/xerrors"
)

// KeyPart is one node of the key trie, decoded form (§3/§6):
//
//	1-byte prefix, 1-byte version, hash (8 or 16 bytes),
//	optional annotation block aligned to 8 bytes in "A" variants.
type KeyPart struct {
	Version    Version
	Prefix     uint8
	Hash       []byte
	Annotation []byte // raw bytes stored by the writer, only set for "A" variants

	// fp is the internal chain fingerprint used to correlate this part
	// with the certification index entry it produced. It is not part of
	// the wire form (the wire form only carries the truncated Hash).
	fp uint64
}

// Fingerprint is the internal 64-bit chain hash identifying this part's
// path in the trie, used as the certification index key.
func (kp KeyPart) Fingerprint() uint64 { return kp.fp }

func alignUp(n, alignment int) int {
	if alignment <= 1 {
		return n
	}
	return (n + alignment - 1) / alignment * alignment
}

// encode appends the wire form of kp to dst and returns the result.
func (kp KeyPart) encode(dst []byte, alignment int) []byte {
	dst = append(dst, kp.Prefix, byte(kp.Version))
	dst = append(dst, kp.Hash...)

	if kp.Version.Annotated() {
		// annotation block: 4-byte block size (the whole padded block,
		// including itself and the length word below), 4-byte payload
		// length, payload bytes, then zero padding up to an
		// alignment-byte multiple. The inner length lets the reader
		// recover the exact payload even though the padding is
		// itself zero bytes.
		unpadded := 8 + len(kp.Annotation)
		padded := alignUp(unpadded, alignment)

		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(padded))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(kp.Annotation)))
		dst = append(dst, hdr[:]...)
		dst = append(dst, kp.Annotation...)
		if pad := padded - unpadded; pad > 0 {
			dst = append(dst, make([]byte, pad)...)
		}
	}
	return dst
}

// decodeKeyPart reads one KeyPart from src at offset off, returning the
// part and the offset just past it.
func decodeKeyPart(src []byte, off int) (KeyPart, int, error) {
	if off+2 > len(src) {
		return KeyPart{}, 0, xerrors.WithContext(xerrors.ErrProtocol, "key part: truncated header")
	}
	prefix := src[off]
	ver := Version(src[off+1])
	off += 2

	if ver == EMPTY || ver > MaxVersion {
		return KeyPart{}, 0, xerrors.WithContext(xerrors.ErrProtocol,
			fmt.Sprintf("key part: bad version %d", ver))
	}

	hashSize := ver.HashSize()
	if off+hashSize > len(src) {
		return KeyPart{}, 0, xerrors.WithContext(xerrors.ErrProtocol, "key part: truncated hash")
	}
	hash := append([]byte(nil), src[off:off+hashSize]...)
	off += hashSize

	kp := KeyPart{Version: ver, Prefix: prefix, Hash: hash, fp: binary.LittleEndian.Uint64(hash[:8])}

	if ver.Annotated() {
		if off+8 > len(src) {
			return KeyPart{}, 0, xerrors.WithContext(xerrors.ErrProtocol, "key part: truncated annotation header")
		}
		blockSize := int(binary.LittleEndian.Uint32(src[off : off+4]))
		payloadLen := int(binary.LittleEndian.Uint32(src[off+4 : off+8]))
		if blockSize < 8 || off+blockSize > len(src) || 8+payloadLen > blockSize {
			return KeyPart{}, 0, xerrors.WithContext(xerrors.ErrProtocol, "key part: bad annotation size")
		}
		kp.Annotation = append([]byte(nil), src[off+8:off+8+payloadLen]...)
		off += blockSize
	}

	return kp, off, nil
}
