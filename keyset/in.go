package keyset

// KeySetIn is the reader side of a KeySet: it iterates the KeyPart trie
// out of the bytes a KeySetOut gathered (§4.1). CRC verification of the
// framing this buffer lives in is the WriteSet container's job (§4.2,
// §6's single CRC32 trailer covers header+keys+data+annotations); KeySetIn
// only decodes the structure within already-trusted bytes.
type KeySetIn struct {
	buf []byte
	off int
}

// NewIn creates a reader over buf, the key-section bytes produced by
// KeySetOut.Gather.
func NewIn(buf []byte) *KeySetIn {
	return &KeySetIn{buf: buf}
}

// Next decodes the next KeyPart, or returns ok=false once the buffer is
// exhausted.
func (ks *KeySetIn) Next() (kp KeyPart, ok bool, err error) {
	if ks.off >= len(ks.buf) {
		return KeyPart{}, false, nil
	}
	kp, next, err := decodeKeyPart(ks.buf, ks.off)
	if err != nil {
		return KeyPart{}, false, err
	}
	ks.off = next
	return kp, true, nil
}

// All decodes every remaining KeyPart.
func (ks *KeySetIn) All() ([]KeyPart, error) {
	var out []KeyPart
	for {
		kp, ok, err := ks.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, kp)
	}
}

// Count decodes the buffer to completion and returns how many parts and
// bytes it consumed - used by the KeySet round-trip invariant (§8.4).
func Count(buf []byte) (parts int, bytes int, err error) {
	in := NewIn(buf)
	all, err := in.All()
	if err != nil {
		return 0, 0, err
	}
	return len(all), in.off, nil
}
