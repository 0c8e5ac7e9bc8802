package keyset

import (
	"github.com/codership-go/galera-cert/common/xerrors"
)

// Stats summarizes a KeySetOut's activity, exported for the metrics layer.
type Stats struct {
	PartsEmitted  int
	Duplicates    int // branch-level duplicates silently absorbed
	Strengthened  int // entries replaced by a stronger duplicate
}

type addedEntry struct {
	prefix uint8
}

// KeySetOut is the writer side of a KeySet: it accumulates the
// deduplicated trie of keys an outgoing transaction touches, ready to be
// gathered into the wire form carried by a WriteSet (§4.1/§4.2).
type KeySetOut struct {
	wsVer     WSVersion
	encVer    Version
	alignment int

	added map[uint64]addedEntry
	buf   []byte
	stats Stats
}

// NewOut creates a KeySetOut encoding parts with encVer (hash width /
// annotation support) for write-set protocol version wsVer. alignment is
// only meaningful for the "A" variants (typically 8).
func NewOut(wsVer WSVersion, encVer Version, alignment int) *KeySetOut {
	if alignment <= 0 {
		alignment = 8
	}
	return &KeySetOut{
		wsVer:     wsVer,
		encVer:    encVer,
		alignment: alignment,
		added:     make(map[uint64]addedEntry),
	}
}

// Size returns the number of bytes gathered so far.
func (ks *KeySetOut) Size() int { return len(ks.buf) }

// Stats returns a snapshot of writer activity for metrics/debugging.
func (ks *KeySetOut) Stats() Stats { return ks.stats }

// Append adds one key (an ordered path of raw byte segments) with the
// given leaf strength. branchType is the strength used for every non-leaf
// (BRANCH) part of the path - ordinarily Shared, per §3's "non-leaf parts
// are always BRANCH (SHARED)".
//
// Duplicates at branch level are silently absorbed. A duplicate *leaf* at
// the same or weaker strength than what's already stored returns
// xerrors.ErrDuplicateKey. A part whose new prefix is stronger than the
// stored one is appended again (the old bytes are left in place - they
// are already checksummed) and the lookup is redirected to the new entry.
func (ks *KeySetOut) Append(parts [][]byte, strength, branchType Strength) (emitted int, err error) {
	return ks.AppendAnnotated(parts, strength, branchType, nil)
}

// AppendAnnotated behaves like Append, additionally attaching annotation
// bytes to the leaf part (only meaningful for the FLAT8A/FLAT16A "A"
// encodings; ignored otherwise).
func (ks *KeySetOut) AppendAnnotated(parts [][]byte, strength, branchType Strength, annotation []byte) (emitted int, err error) {
	if len(parts) == 0 {
		return ks.appendOne(rootFingerprint, strength, annotation, true)
	}

	parent := rootFingerprint
	for i, part := range parts {
		if i > 0 && ks.added[parent].prefix == WirePrefix(Exclusive, ks.wsVer) {
			// an EXCLUSIVE part already covers every key beneath it
			ks.stats.Duplicates++
			return emitted, nil
		}
		leaf := i+1 == len(parts)
		pfx := branchType
		var ann []byte
		if leaf {
			pfx = strength
			ann = annotation
		}
		fp := chainHash(parent, part)
		n, aerr := ks.appendOne(fp, pfx, ann, leaf)
		emitted += n
		if aerr != nil {
			return emitted, aerr
		}
		parent = fp
	}
	return emitted, nil
}

// appendOne handles a single trie node identified by fp, applying the
// insert/strengthen/absorb/duplicate rule.
func (ks *KeySetOut) appendOne(fp uint64, strength Strength, annotation []byte, leaf bool) (int, error) {
	wire := WirePrefix(strength, ks.wsVer)

	existing, ok := ks.added[fp]
	switch {
	case !ok:
		ks.store(fp, wire, annotation)
		ks.added[fp] = addedEntry{prefix: wire}
		ks.stats.PartsEmitted++
		return 1, nil

	case wire > existing.prefix:
		// Weaker entry already present: append a strengthened duplicate
		// and redirect the lookup. The original bytes stay in the
		// buffer untouched (already part of the checksummed output).
		ks.store(fp, wire, annotation)
		ks.added[fp] = addedEntry{prefix: wire}
		ks.stats.Strengthened++
		return 1, nil

	case leaf:
		return 0, xerrors.ErrDuplicateKey

	default:
		ks.stats.Duplicates++
		return 0, nil
	}
}

func (ks *KeySetOut) store(fp uint64, wire uint8, annotation []byte) {
	kp := KeyPart{
		Version:    ks.encVer,
		Prefix:     wire,
		Hash:       wireHash(fp, ks.encVer),
		Annotation: annotation,
		fp:         fp,
	}
	ks.buf = kp.encode(ks.buf, ks.alignment)
}

// Gather finalizes the writer and returns the serialized key section
// bytes, ready to be embedded in a WriteSet.
func (ks *KeySetOut) Gather() []byte {
	return append([]byte(nil), ks.buf...)
}
