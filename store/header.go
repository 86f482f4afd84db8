package store

import (
	"encoding/binary"
	"fmt"
)

const (
	// runMagic is "XMRG" in little-endian.
	runMagic = uint32(0x47524D58)

	runVersion = uint16(0x0001)

	// headerSize is the exact size of the serialized run header.
	headerSize = 24

	// trailerSize is the xxhash64 of the framed record bytes.
	trailerSize = 8
)

const (
	flagZstd uint16 = 1 << iota
)

// runHeader is the fixed header at the start of every run file.
//
// Layout:
//
//	Offset  Size  Field     Type
//	0       4     Magic     0x47524D58 ("XMRG")
//	4       2     Version   uint16_le
//	6       2     Flags     uint16_le (bit 0 = zstd body)
//	8       8     Count     uint64_le (records in the run)
//	16      8     Reserved  zero
//
// The header is followed by the body: each record framed as
// uvarint(len) || bytes, optionally zstd compressed as a whole, then by
// an 8 byte little-endian xxhash64 of the uncompressed body.
type runHeader struct {
	Magic   uint32
	Version uint16
	Flags   uint16
	Count   uint64
}

func (h *runHeader) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.Count)
	clear(buf[16:headerSize])
}

func decodeRunHeader(buf []byte) (*runHeader, error) {
	if len(buf) < headerSize {
		return nil, ErrTruncated
	}
	h := &runHeader{
		Magic:   binary.LittleEndian.Uint32(buf[0:4]),
		Version: binary.LittleEndian.Uint16(buf[4:6]),
		Flags:   binary.LittleEndian.Uint16(buf[6:8]),
		Count:   binary.LittleEndian.Uint64(buf[8:16]),
	}
	if h.Magic != runMagic {
		return nil, ErrBadMagic
	}
	if h.Version != runVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

func (h *runHeader) compressed() bool {
	return h.Flags&flagZstd != 0
}
