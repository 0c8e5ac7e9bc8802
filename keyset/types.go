// Package keyset implements the hierarchical key trie carried inside every
// write-set (§3, §4.1): the writer side (KeySetOut) builds a deduplicated,
// strength-ordered set of key parts for an outgoing transaction; the reader
// side (KeySetIn) decodes that trie back out of the wire bytes GCache
// handed to the certification engine.
//
// Grounded on galera/src/key_set.cpp (KeySetOut::KeyPart / ::append) from
// the original implementation: this package keeps the same rules
// (common-ancestor walk, branch-duplicate absorption, leaf-duplicate
// rejection, weaker-entry redirection) but expresses the "added" lookup
// as a plain Go map keyed by a chained fingerprint instead of an
// unordered_set of mutable nodes.
package keyset

import (
	"fmt"
	"strings"
)

// Version is the wire encoding of a KeySet: it governs the width of the
// per-part hash (8 or 16 bytes) and whether an alignment-padded annotation
// block follows it (the "A" variants).
type Version uint8

const (
	EMPTY Version = iota
	FLAT8
	FLAT8A
	FLAT16
	FLAT16A
	MaxVersion = FLAT16A
)

func (v Version) String() string {
	switch v {
	case EMPTY:
		return "EMPTY"
	case FLAT8:
		return "FLAT8"
	case FLAT8A:
		return "FLAT8A"
	case FLAT16:
		return "FLAT16"
	case FLAT16A:
		return "FLAT16A"
	default:
		return fmt.Sprintf("Version(%d)", uint8(v))
	}
}

// HashSize returns the width, in bytes, of the per-part hash for v.
func (v Version) HashSize() int {
	switch v {
	case FLAT8, FLAT8A:
		return 8
	case FLAT16, FLAT16A:
		return 16
	default:
		return 0
	}
}

// Annotated reports whether v carries an alignment-padded annotation block
// after the hash (the "A" variants).
func (v Version) Annotated() bool {
	return v == FLAT8A || v == FLAT16A
}

// ParseVersion maps a case-insensitive name to a Version.
func ParseVersion(s string) (Version, error) {
	for v := EMPTY; v <= MaxVersion; v++ {
		if strings.EqualFold(v.String(), s) {
			return v, nil
		}
	}
	return EMPTY, fmt.Errorf("keyset: unsupported version %q", s)
}

// Strength is a key part's access intent, ordered weakest to strongest:
// SHARED < REFERENCE < UPDATE < EXCLUSIVE.
type Strength uint8

const (
	Shared Strength = iota
	Reference
	Update
	Exclusive
)

func (s Strength) String() string {
	switch s {
	case Shared:
		return "SHARED"
	case Reference:
		return "REFERENCE"
	case Update:
		return "UPDATE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("Strength(%d)", uint8(s))
	}
}

// WSVersion is the write-set protocol version (§3): it governs how many
// distinct key strengths the wire prefix byte can actually distinguish.
//
//	v3: SHARED vs {REFERENCE,UPDATE,EXCLUSIVE} collapsed
//	v4: SHARED vs {REFERENCE,UPDATE} collapsed vs EXCLUSIVE
//	v5+: all four distinguished
type WSVersion uint8

const (
	WS3 WSVersion = 3
	WS4 WSVersion = 4
	WS5 WSVersion = 5
)

// WirePrefix maps a Strength to the small integer actually carried on the
// wire for write-set protocol version wsVer, collapsing per the table
// above. The returned values are only meaningfully ordered within the same
// wsVer - never compare prefixes computed under different wsVer values.
func WirePrefix(s Strength, wsVer WSVersion) uint8 {
	switch {
	case wsVer <= WS3:
		if s == Shared {
			return 0
		}
		return 1
	case wsVer == WS4:
		switch s {
		case Shared:
			return 0
		case Reference, Update:
			return 1
		default:
			return 2
		}
	default: // WS5+
		switch s {
		case Shared:
			return 0
		case Reference:
			return 1
		case Update:
			return 2
		default:
			return 3
		}
	}
}

// StrengthFromPrefix inverts WirePrefix for a reader decoding a KeyPart
// back into the Strength the certification engine conflict-matrix keys
// off of. Older wsVer values collapse several strengths onto the same
// wire prefix (see WirePrefix's table); a collapsed value is resolved to
// the strongest Strength it could represent, since treating an EXCLUSIVE
// access as anything weaker would let the conflict matrix miss a real
// conflict.
func StrengthFromPrefix(prefix uint8, wsVer WSVersion) Strength {
	switch {
	case wsVer <= WS3:
		if prefix == 0 {
			return Shared
		}
		return Exclusive
	case wsVer == WS4:
		switch prefix {
		case 0:
			return Shared
		case 1:
			return Update
		default:
			return Exclusive
		}
	default: // WS5+
		switch prefix {
		case 0:
			return Shared
		case 1:
			return Reference
		case 2:
			return Update
		default:
			return Exclusive
		}
	}
}
