// Package writeset implements the write-set serialization container
// (§4.2, §6): header, key section, data section, annotations, and a
// trailing CRC32 - the on-the-wire unit the certification engine and
// GCache exchange.
package writeset

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/codership-go/galera-cert/common/xerrors"
	"github.com/codership-go/galera-cert/keyset"
	"github.com/codership-go/galera-cert/seqno"
)

// Type distinguishes the three action kinds carried over the same wire
// framing (§4.2).
type Type uint8

const (
	TypeWriteSet Type = iota
	TypeConfChange
	TypeSync
)

// Flags are the write-set flags referenced throughout §4.2/§4.5.
type Flags uint16

const (
	FBegin Flags = 1 << iota
	FCommit
	FRollback
	FIsolation // TOI
	FPAUnsafe
	FNBOBegin
	FNBOEnd
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// magicBase is OR'd with the protocol version to form the 4-byte
// magic+version word in the header.
const magicBase uint32 = 0x47575300 // "GWS\x00"

const (
	fixedHeaderSize = 4 + 1 + 1 + 16 + 8 + 8 + 8 // magic, type, flags, source, conn, trx, last_seen_g
	paRangeSize     = 2
	lengthsSize     = 4 + 4 + 4
	trailerSize     = 4
)

// Header is the fixed-size prefix of a write-set (§6).
type Header struct {
	Version   keyset.WSVersion
	Type      Type
	Flags     Flags
	Source    seqno.NodeID
	ConnID    seqno.ConnID
	TrxID     seqno.TrxID
	LastSeenG seqno.Global
	PARange   uint16 // only meaningful for Version >= WS5
}

// WriteSet is the fully decoded write-set container.
type WriteSet struct {
	Header      Header
	Keys        []byte // serialized key section (keyset.KeySetOut.Gather() output)
	Data        []byte // opaque payload for the database service
	Annotations []byte // optional debug/provenance bytes
}

// Finalize stamps the last-seen ordinal used by certification (§4.2).
func (ws *WriteSet) Finalize(lastSeenG seqno.Global) {
	ws.Header.LastSeenG = lastSeenG
}

// Gather produces the scatter list whose concatenation is the wire form,
// stamping source/conn/trx into the header as it does so.
func (ws *WriteSet) Gather(source seqno.NodeID, conn seqno.ConnID, trx seqno.TrxID) [][]byte {
	ws.Header.Source = source
	ws.Header.ConnID = conn
	ws.Header.TrxID = trx
	return [][]byte{ws.serializeAll()}
}

// Serialize writes the complete framed write-set to dst (which may be
// nil) and returns the resulting byte count.
func (ws *WriteSet) Serialize(dst []byte) ([]byte, int) {
	out := ws.serializeAll()
	dst = append(dst, out...)
	return dst, len(out)
}

func (ws *WriteSet) serializeAll() []byte {
	hasPARange := ws.Header.Version >= keyset.WS5

	size := fixedHeaderSize
	if hasPARange {
		size += paRangeSize
	}
	size += lengthsSize + len(ws.Keys) + len(ws.Data) + len(ws.Annotations) + trailerSize

	buf := make([]byte, 0, size)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], magicBase|uint32(ws.Header.Version))
	buf = append(buf, u32[:]...)

	buf = append(buf, byte(ws.Header.Type), byte(ws.Header.Flags))
	buf = append(buf, ws.Header.Source[:]...)

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(ws.Header.ConnID))
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], uint64(ws.Header.TrxID))
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], uint64(ws.Header.LastSeenG))
	buf = append(buf, u64[:]...)

	if hasPARange {
		var u16 [2]byte
		binary.LittleEndian.PutUint16(u16[:], ws.Header.PARange)
		buf = append(buf, u16[:]...)
	}

	binary.LittleEndian.PutUint32(u32[:], uint32(len(ws.Keys)))
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(ws.Data)))
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(ws.Annotations)))
	buf = append(buf, u32[:]...)

	buf = append(buf, ws.Keys...)
	buf = append(buf, ws.Data...)
	buf = append(buf, ws.Annotations...)

	crc := crc32.ChecksumIEEE(buf)
	binary.LittleEndian.PutUint32(u32[:], crc)
	buf = append(buf, u32[:]...)

	return buf
}

// Unserialize decodes buf (the full framed write-set, CRC trailer
// included) into a WriteSet, verifying the CRC32 trailer over
// header+keys+data+annotations as specified in §6.
//
// A CRC mismatch here is a protocol error (the buffer has not yet been
// trusted by any certification decision); once a buffer has been admitted
// and later re-read (e.g. GCache recovery), a CRC mismatch is promoted to
// a Fatal condition by the caller per §7 - Unserialize itself cannot tell
// the two situations apart, since it doesn't know the buffer's history.
func Unserialize(buf []byte) (*WriteSet, error) {
	if len(buf) < fixedHeaderSize+lengthsSize+trailerSize {
		return nil, xerrors.WithContext(xerrors.ErrProtocol, "write-set: truncated header")
	}

	off := 0
	magic := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	ver := keyset.WSVersion(magic &^ 0xFFFFFF00)
	if magicBase != magic&0xFFFFFF00 {
		return nil, xerrors.WithContext(xerrors.ErrProtocol, "write-set: bad magic")
	}
	if ver < keyset.WS3 || ver > keyset.WS5 {
		return nil, xerrors.WithContext(xerrors.ErrProtocol, "write-set: unsupported version")
	}

	ws := &WriteSet{Header: Header{Version: ver}}
	ws.Header.Type = Type(buf[off])
	off++
	ws.Header.Flags = Flags(buf[off])
	off++
	copy(ws.Header.Source[:], buf[off:off+16])
	off += 16
	ws.Header.ConnID = seqno.ConnID(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	ws.Header.TrxID = seqno.TrxID(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	ws.Header.LastSeenG = seqno.Global(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8

	if ver >= keyset.WS5 {
		if off+paRangeSize > len(buf) {
			return nil, xerrors.WithContext(xerrors.ErrProtocol, "write-set: truncated pa-range")
		}
		ws.Header.PARange = binary.LittleEndian.Uint16(buf[off : off+2])
		off += paRangeSize
	}

	if off+lengthsSize > len(buf) {
		return nil, xerrors.WithContext(xerrors.ErrProtocol, "write-set: truncated lengths")
	}
	keysLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	dataLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	annLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4

	need := off + keysLen + dataLen + annLen + trailerSize
	if need > len(buf) || need < 0 {
		return nil, xerrors.WithContext(xerrors.ErrProtocol, "write-set: truncated body")
	}

	ws.Keys = append([]byte(nil), buf[off:off+keysLen]...)
	off += keysLen
	ws.Data = append([]byte(nil), buf[off:off+dataLen]...)
	off += dataLen
	ws.Annotations = append([]byte(nil), buf[off:off+annLen]...)
	off += annLen

	wantCRC := binary.LittleEndian.Uint32(buf[off : off+4])
	gotCRC := crc32.ChecksumIEEE(buf[:off])
	if wantCRC != gotCRC {
		return nil, xerrors.WithContext(xerrors.ErrProtocol, "write-set: CRC32 mismatch")
	}

	return ws, nil
}
