package pagestore

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record is one buffer header as found in a page file.
type Record struct {
	Offset int64
	Size   int // total bytes including the header
	Seqno  int64
	Ctx    uint64
	Flags  uint16
	Store  uint16
}

// Released reports whether the record carries the released flag.
func (r Record) Released() bool { return r.Flags&FlagReleased != 0 }

// Walk iterates the header chain of a page file from offset 0, calling fn
// for each record until the zeroed sentinel, the end of the file, or fn
// returning false.
//
// The reader sees decrypted contents when layered over a mapping.Reader
// configured for an encrypted file.
func Walk(r io.ReaderAt, size int64, fn func(Record) bool) error {
	var hdr [HeaderSize]byte

	for off := int64(0); off+HeaderSize <= size; {
		if _, err := r.ReadAt(hdr[:], off); err != nil {
			return fmt.Errorf("read header at offset %d: %w", off, err)
		}

		total := int(binary.LittleEndian.Uint32(hdr[hdrOffSize:]))
		if total == 0 {
			return nil // sentinel
		}
		if total < HeaderSize || off+int64(total) > size {
			return fmt.Errorf("corrupt header at offset %d: size %d", off, total)
		}

		rec := Record{
			Offset: off,
			Size:   total,
			Seqno:  int64(binary.LittleEndian.Uint64(hdr[hdrOffSeqno:])),
			Ctx:    binary.LittleEndian.Uint64(hdr[hdrOffCtx:]),
			Flags:  binary.LittleEndian.Uint16(hdr[hdrOffFlags:]),
			Store:  binary.LittleEndian.Uint16(hdr[hdrOffStore:]),
		}
		if !fn(rec) {
			return nil
		}

		off += int64(total)
	}

	return nil
}
