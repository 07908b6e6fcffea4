package pagestore

import (
	"fmt"
	"io"
	"os"

	"github.com/replicore/wscache/internal/logger"
	"github.com/replicore/wscache/pkg/mapping"
)

// Page is one memory-mapped file acting as an append-only bump allocator.
// Space freed by individual buffers is not reused; it comes back only when
// the whole page is reclaimed or reset.
type Page struct {
	file *os.File
	mmap mapping.Mapping
	data []byte

	// id is the page-creation counter value this page was created with.
	// It names the backing file and is written into every buffer header
	// as the owning-page back-reference.
	id uint64

	next     int // bump cursor offset; 0 <= next <= len(data)
	space    int // bytes remaining; next + space == len(data)
	used     int // live (non-discarded) buffer count
	minSpace int // low-water mark of space since creation
	debug    int
}

// newPage creates the backing file at path, truncates it to size and maps
// it through the factory. The first header-sized region is cleared to
// install the initial sentinel.
func newPage(path string, size int, id uint64, factory mapping.Factory, debug int) (*Page, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("create page file: %w", err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("truncate page file to %d: %w", size, err)
	}

	m, err := factory.Map(f, size)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	p := &Page{
		file:     f,
		mmap:     m,
		data:     m.Bytes(),
		id:       id,
		space:    size,
		minSpace: size,
		debug:    debug,
	}

	hdrClear(p.data, 0)

	logger.Info("created page", logger.KeyPage, p.Name(), logger.KeySize, size)
	return p, nil
}

// Name returns the backing file path.
func (p *Page) Name() string { return p.file.Name() }

// Size returns the page size in bytes.
func (p *Page) Size() int { return len(p.data) }

// Used returns the live buffer count.
func (p *Page) Used() int { return p.used }

// Space returns the bytes remaining for allocation.
func (p *Page) Space() int { return p.space }

// ID returns the page-creation counter value.
func (p *Page) ID() uint64 { return p.id }

// AllocatedPoolSize returns the high-water mark of allocated bytes.
func (p *Page) AllocatedPoolSize() int { return len(p.data) - p.minSpace }

// malloc places a buffer of size total bytes (header included) at the
// bump cursor. Returns an invalid Buffer when the page has no room; the
// caller must then obtain a new page.
func (p *Page) malloc(size int) Buffer {
	if size < HeaderSize || size > MaxBufferSize {
		fatalf("invalid allocation size %d for page %s", size, p.Name())
	}

	if size > p.space {
		logger.Debug("page allocation miss",
			logger.KeyPage, p.Name(), logger.KeySize, size, logger.KeySpace, p.space)
		return Buffer{}
	}

	off := p.next
	hdrSetSize(p.data, off, size)
	hdrSetSeqno(p.data, off, SeqnoNone)
	hdrSetCtx(p.data, off, p.id)
	hdrSetFlags(p.data, off, 0)
	hdrSetStore(p.data, off, StoreInPage)

	p.next += size
	p.space -= size
	p.used++
	if p.space < p.minSpace {
		p.minSpace = p.space
	}

	if p.space >= HeaderSize {
		hdrClear(p.data, p.next)
	}

	if p.debug > 0 {
		logger.Debug("page alloc",
			logger.KeyPage, p.Name(), logger.KeyOffset, off, logger.KeySize, size)
	}

	return Buffer{page: p, off: off}
}

// realloc resizes b to size total bytes. Two regimes:
//
// The tail buffer (the last one allocated) can shrink and, space
// permitting, grow in place; the handle is unchanged. An invalid Buffer
// return means the tail could not be extended here and the caller must
// allocate elsewhere.
//
// An interior buffer can only grow, by allocating fresh space in this
// page and copying; the old allocation is abandoned (used is dropped by
// one). Shrinking an interior buffer is impossible in a bump allocator,
// so non-growing sizes return the handle unchanged.
func (p *Page) realloc(b Buffer, size int) Buffer {
	if size < HeaderSize || size > MaxBufferSize {
		fatalf("invalid reallocation size %d for page %s", size, p.Name())
	}

	oldSize := hdrSize(p.data, b.off)

	if b.off == p.next-oldSize { // tail buffer
		diff := size - oldSize

		if diff < 0 || diff < p.space {
			hdrSetSize(p.data, b.off, size)
			p.space -= diff
			p.next += diff
			if p.space < p.minSpace {
				p.minSpace = p.space
			}
			if p.space >= HeaderSize {
				hdrClear(p.data, p.next)
			}
			return b
		}
		return Buffer{} // not enough space in this page
	}

	if size > oldSize {
		nb := p.malloc(size)
		if nb.IsValid() {
			copy(nb.Bytes(), p.data[b.off+HeaderSize:b.off+oldSize])
			hdrSetSeqno(p.data, nb.off, hdrSeqno(p.data, b.off))
			p.abandon()
		}
		return nb
	}

	// Interior buffers cannot move down; the buffer stays locked in place.
	return b
}

// free marks the buffer at off released. The space is not returned to the
// page and used is not touched; both are recovered by whole-page
// reclamation after discard.
func (p *Page) free(off int) {
	hdrMarkReleased(p.data, off)
}

// discard drops the live count for a buffer in its terminal state.
// Returns the remaining live count so the store can trigger cleanup.
func (p *Page) discard(off int) int {
	if !hdrIsReleased(p.data, off) {
		fatalf("discard of non-released buffer at offset %d in page %s", off, p.Name())
	}
	if hdrSeqno(p.data, off) != SeqnoIll {
		fatalf("discard of buffer with live seqno %d at offset %d in page %s",
			hdrSeqno(p.data, off), off, p.Name())
	}
	if p.used == 0 {
		fatalf("discard on empty page %s", p.Name())
	}

	p.used--
	return p.used
}

// abandon drops the live count for a buffer superseded by realloc copy.
func (p *Page) abandon() {
	if p.used == 0 {
		fatalf("abandon on empty page %s", p.Name())
	}
	p.used--
}

// Reset rejuvenates an empty page: full space, cursor at base, fresh
// sentinel. Resetting a page with live buffers is a fatal programmer
// error.
func (p *Page) Reset() {
	if p.used > 0 {
		fatalf("attempt to reset page %s used by %d buffers", p.Name(), p.used)
	}

	p.space = len(p.data)
	p.next = 0
	hdrClear(p.data, 0)
}

// DropFSCache advises the operating system to drop cached pages backing
// the file, bounding the kernel's page-cache footprint.
func (p *Page) DropFSCache() {
	p.mmap.DontNeed()
}

// setDebug sets the page debug level.
func (p *Page) setDebug(dbg int) { p.debug = dbg }

// close tears down the mapping and the file descriptor. The backing file
// is left on disk; unlinking is the eviction worker's job.
func (p *Page) close() error {
	if err := p.mmap.Unmap(); err != nil {
		return err
	}
	return p.file.Close()
}

// Dump writes a human-readable page printout: the page summary and, at
// positive debug levels, one line per non-released buffer with gaps
// marked.
func (p *Page) Dump(w io.Writer) {
	fmt.Fprintf(w, "page file: %s, size: %d, used: %d", p.Name(), p.Size(), p.used)

	if p.used == 0 || p.debug == 0 {
		fmt.Fprintln(w)
		return
	}

	wasReleased := true
	for off := 0; off != p.next; {
		size := hdrSize(p.data, off)
		if !hdrIsReleased(p.data, off) {
			fmt.Fprintf(w, "\noff: %d, size: %d, seqno: %d, flags: %#x",
				off, size, hdrSeqno(p.data, off), hdrFlags(p.data, off))
			wasReleased = false
		} else {
			if !wasReleased && off+size != p.next {
				fmt.Fprint(w, "\n...") // gap
			}
			wasReleased = true
		}
		off += size
	}
	fmt.Fprintln(w)
}
