// Package pagestore implements the on-disk paged buffer cache of the
// replication engine: a deque of memory-mapped page files, each an
// append-only bump allocator of variable-sized buffers.
//
// Every allocated buffer is prefixed by a fixed-layout header placed
// in-band in the page mapping. The header bytes in the mapping are the
// authoritative record of the buffer's size, owner and state; the Buffer
// handle is only a cheap locator. A zeroed header at the bump cursor acts
// as a sentinel so code walking a page can stop safely.
//
// Allocation is serialized by the caller (see package cache); the store
// performs no internal locking.
package pagestore

import "encoding/binary"

// HeaderSize is the fixed byte size of a buffer header. The layout keeps
// the payload aligned to 8 bytes:
//
//	offset 0  size    uint32  total bytes including the header; 0 is the sentinel
//	offset 4  flags   uint16  released / skipped bits
//	offset 6  store   uint16  storage kind tag
//	offset 8  seqno_g int64   global sequence number
//	offset 16 ctx     uint64  id of the owning page
const HeaderSize = 24

// Header field offsets
const (
	hdrOffSize  = 0
	hdrOffFlags = 4
	hdrOffStore = 6
	hdrOffSeqno = 8
	hdrOffCtx   = 16
)

// Global sequence number states.
const (
	// SeqnoNone marks a buffer that has not been assigned a sequence
	// number yet.
	SeqnoNone int64 = 0

	// SeqnoIll marks a discarded buffer.
	SeqnoIll int64 = -1
)

// Header flag bits.
const (
	FlagReleased uint16 = 1 << 0
	FlagSkipped  uint16 = 1 << 1
)

// Storage kind tags.
const (
	storeNone   uint16 = 0
	StoreInPage uint16 = 1
)

// The functions below read and write header fields at a given offset in a
// page view. They are the only code that knows the header layout.

func hdrSize(b []byte, off int) int {
	return int(binary.LittleEndian.Uint32(b[off+hdrOffSize:]))
}

func hdrSetSize(b []byte, off, size int) {
	binary.LittleEndian.PutUint32(b[off+hdrOffSize:], uint32(size))
}

func hdrFlags(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off+hdrOffFlags:])
}

func hdrSetFlags(b []byte, off int, flags uint16) {
	binary.LittleEndian.PutUint16(b[off+hdrOffFlags:], flags)
}

func hdrStore(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off+hdrOffStore:])
}

func hdrSetStore(b []byte, off int, store uint16) {
	binary.LittleEndian.PutUint16(b[off+hdrOffStore:], store)
}

func hdrSeqno(b []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(b[off+hdrOffSeqno:]))
}

func hdrSetSeqno(b []byte, off int, seqno int64) {
	binary.LittleEndian.PutUint64(b[off+hdrOffSeqno:], uint64(seqno))
}

func hdrCtx(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off+hdrOffCtx:])
}

func hdrSetCtx(b []byte, off int, ctx uint64) {
	binary.LittleEndian.PutUint64(b[off+hdrOffCtx:], ctx)
}

func hdrIsReleased(b []byte, off int) bool {
	return hdrFlags(b, off)&FlagReleased != 0
}

func hdrMarkReleased(b []byte, off int) {
	hdrSetFlags(b, off, hdrFlags(b, off)|FlagReleased)
}

// hdrClear zeroes a whole header, planting a sentinel.
func hdrClear(b []byte, off int) {
	clear(b[off : off+HeaderSize])
}
