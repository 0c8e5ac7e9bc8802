package keyset

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// rootFingerprint is the chain seed every top-level key part hashes
// against - the "branch root" ancestor implicit in an empty path.
const rootFingerprint uint64 = 0

// chainHash extends parent's fingerprint with value, the same rolling
// construction key_set.cpp uses (hash.append(size); hash.append(value))
// so that two parts with identical bytes at different depths in the trie
// never collide.
func chainHash(parent uint64, value []byte) uint64 {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(value)))

	d := xxhash.New()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], parent)
	_, _ = d.Write(seed[:])
	_, _ = d.Write(lenBuf[:])
	_, _ = d.Write(value)
	return d.Sum64()
}

// wireHash derives the on-the-wire KeyPart hash bytes for the given
// fingerprint, sized per Version. FLAT16/FLAT16A widen the 64-bit
// fingerprint to 128 bits by mixing in a second pass with a different
// seed, matching the common low-collision-probability practice of
// deriving wider digests from a fast hash rather than a second algorithm.
func wireHash(fp uint64, ver Version) []byte {
	size := ver.HashSize()
	out := make([]byte, size)
	binary.LittleEndian.PutUint64(out[:8], fp)
	if size == 16 {
		var seed [8]byte
		binary.LittleEndian.PutUint64(seed[:], fp)
		d := xxhash.New()
		_, _ = d.Write(seed[:])
		_, _ = d.Write([]byte{0xa5})
		binary.LittleEndian.PutUint64(out[8:16], d.Sum64())
	}
	return out
}
