package pagestore

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/replicore/wscache/internal/logger"
	"github.com/replicore/wscache/pkg/mapping"
)

// MaxBufferSize is the largest total allocation (header included) the
// store accepts. The header size field is 32 bits wide.
const MaxBufferSize = 1<<32 - 1

// pageNameWidth is the zero-padded width of the page counter in file
// names.
const pageNameWidth = 6

// Metrics receives page-store events. Implementations must be cheap; the
// store calls them under the caller's allocation lock. A nil Metrics
// disables reporting.
type Metrics interface {
	// PageCreated reports a new page of the given size.
	PageCreated(size int)

	// PageEvicted reports eviction of a page of the given size.
	PageEvicted(size int)

	// BufferAllocated reports a successful allocation of total bytes.
	BufferAllocated(size int)

	// Totals reports the page count and aggregate size after a change.
	Totals(pages, totalSize int)
}

// Options configures a Store.
type Options struct {
	// Dir is the directory for page files.
	Dir string

	// Name is the base name pages derive their file names from; files
	// are named <dir>/<name>.page.<counter>.
	Name string

	// KeepSize is the target maximum bytes of retained pages.
	KeepSize int

	// PageSize is the minimum size of a newly created page.
	PageSize int

	// KeepCount is the target maximum number of retained pages.
	KeepCount int

	// Debug is the verbosity level; higher levels enable per-allocation
	// logging and the detailed page printout.
	Debug int

	// Factory maps page files; nil selects the plain OS mapping.
	Factory mapping.Factory

	// Metrics receives store events; nil disables reporting.
	Metrics Metrics
}

// Store owns an ordered collection of pages, oldest at the front, and
// routes allocations to the current page, creating a new one on overflow.
// Pages whose buffers have all been discarded are reclaimed from the
// front, subject to the keep-size and keep-count retention budgets.
//
// All methods must be serialized by the caller.
type Store struct {
	baseName  string
	keepSize  int
	pageSize  int
	keepCount int
	count     uint64
	pages     []*Page
	current   *Page
	totalSize int
	factory   mapping.Factory
	deleter   *deleter
	debug     int
	metrics   Metrics
}

// New creates a Store. No page is created until the first allocation.
func New(opts Options) (*Store, error) {
	if opts.PageSize < HeaderSize {
		return nil, fmt.Errorf("page size %d smaller than buffer header (%d bytes)",
			opts.PageSize, HeaderSize)
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("empty page base name")
	}

	factory := opts.Factory
	if factory == nil {
		var err error
		factory, err = mapping.NewFactory(mapping.Config{})
		if err != nil {
			return nil, err
		}
	}

	return &Store{
		baseName:  filepath.Join(opts.Dir, opts.Name+".page."),
		keepSize:  opts.KeepSize,
		pageSize:  opts.PageSize,
		keepCount: opts.KeepCount,
		factory:   factory,
		deleter:   newDeleter(),
		debug:     opts.Debug,
		metrics:   opts.Metrics,
	}, nil
}

// Malloc allocates a buffer of size total bytes, header included. On
// overflow of the current page a new page is created; creation failures
// propagate with the store state unchanged.
func (s *Store) Malloc(size int) (Buffer, error) {
	if size < HeaderSize || size > MaxBufferSize {
		fatalf("allocation size %d out of range [%d, %d]", size, HeaderSize, MaxBufferSize)
	}

	if s.current != nil {
		if b := s.current.malloc(size); b.IsValid() {
			if s.metrics != nil {
				s.metrics.BufferAllocated(size)
			}
			return b, nil
		}
	}

	return s.mallocNew(size)
}

// mallocNew opens a fresh page sized for the request and allocates from
// it.
func (s *Store) mallocNew(size int) (Buffer, error) {
	pageSize := max(s.pageSize, size+HeaderSize)

	name := fmt.Sprintf("%s%0*d", s.baseName, pageNameWidth, s.count)
	page, err := newPage(name, pageSize, s.count, s.factory, s.debug)
	if err != nil {
		return Buffer{}, fmt.Errorf("new page: %w", err)
	}

	s.count++
	s.pages = append(s.pages, page)
	s.current = page
	s.totalSize += page.Size()

	if s.metrics != nil {
		s.metrics.PageCreated(page.Size())
		s.metrics.Totals(len(s.pages), s.totalSize)
	}

	b := s.current.malloc(size)
	if !b.IsValid() {
		fatalf("allocation of %d bytes failed on a fresh page of %d bytes", size, pageSize)
	}
	if s.metrics != nil {
		s.metrics.BufferAllocated(size)
	}
	return b, nil
}

// Realloc resizes b to size total bytes. The owning page handles the
// in-place regimes; when it cannot (an unextendable tail, or an interior
// grow that overflows the page), the store allocates fresh, copies the
// payload and releases the old allocation.
func (s *Store) Realloc(b Buffer, size int) (Buffer, error) {
	if !b.IsValid() {
		fatalf("realloc of invalid buffer")
	}

	page := b.page
	if nb := page.realloc(b, size); nb.IsValid() {
		return nb, nil
	}

	nb, err := s.Malloc(size)
	if err != nil {
		return Buffer{}, err
	}

	copy(nb.Bytes(), b.Bytes())
	nb.SetSeqno(b.Seqno())
	page.abandon()
	if page.Used() == 0 {
		s.cleanup()
	}

	return nb, nil
}

// Free marks b released. The buffer still counts as live until Discard.
func (s *Store) Free(b Buffer) {
	b.page.free(b.off)
}

// Discard drops b's live count. Precondition: the buffer is released and
// its seqno is SeqnoIll; violations are fatal. When the owning page
// empties, cleanup runs.
func (s *Store) Discard(b Buffer) {
	if b.page.discard(b.off) == 0 {
		s.cleanup()
	}
}

// cleanup reclaims pages from the front while the retention policy allows.
func (s *Store) cleanup() {
	for len(s.pages) > 0 && s.deletePage() {
	}
}

// deletePage evicts the front page if it is reclaimable and over budget.
// Reports whether a page was evicted.
//
// A fresh current page (nothing allocated against it since it became
// current) is retained until superseded; a current page with allocation
// history is reclaimable like any other, since a bump allocator cannot
// reuse its space anyway.
func (s *Store) deletePage() bool {
	page := s.pages[0]

	if page.Used() > 0 {
		return false
	}

	if page == s.current && page.next == 0 {
		return false
	}

	// Keep the page only when doing so fits both retention budgets.
	if len(s.pages) <= s.keepCount && s.totalSize <= s.keepSize {
		return false
	}

	s.evict(page)
	return true
}

// evict removes the front page and hands its file to the deletion worker.
func (s *Store) evict(page *Page) {
	s.pages = s.pages[1:]
	s.totalSize -= page.Size()
	if page == s.current {
		s.current = nil
	}

	logger.Info("evicting page", logger.KeyPage, page.Name(),
		logger.KeySize, page.Size(), logger.KeyTotal, s.totalSize)

	if err := page.close(); err != nil {
		logger.Warn("failed to tear down page", logger.KeyPage, page.Name(), logger.KeyError, err)
	}
	s.deleter.enqueue(page.Name())

	if s.metrics != nil {
		s.metrics.PageEvicted(page.Size())
		s.metrics.Totals(len(s.pages), s.totalSize)
	}
}

// Reset clears all pages. Used at startup and on recovery; live buffers
// must not exist. The page-creation counter keeps running so file names
// never collide.
func (s *Store) Reset() {
	for len(s.pages) > 0 {
		page := s.pages[0]
		if page.Used() > 0 {
			fatalf("reset of store with %d live buffers in page %s", page.Used(), page.Name())
		}
		s.evict(page)
	}
}

// Close evicts nothing but stops the deletion worker, draining queued
// unlinks.
func (s *Store) Close() {
	s.deleter.close()
}

// SetPageSize updates the minimum page creation size and re-runs cleanup.
func (s *Store) SetPageSize(size int) {
	s.pageSize = size
	s.cleanup()
}

// SetKeepSize updates the retained-bytes budget and re-runs cleanup,
// which may evict retained pages immediately.
func (s *Store) SetKeepSize(size int) {
	s.keepSize = size
	s.cleanup()
}

// SetKeepCount updates the retained-page budget and re-runs cleanup.
func (s *Store) SetKeepCount(count int) {
	s.keepCount = count
	s.cleanup()
}

// SetDebug sets the verbosity level and propagates it to each page.
func (s *Store) SetDebug(dbg int) {
	s.debug = dbg
	for _, p := range s.pages {
		p.setDebug(dbg)
	}
}

// Count returns the monotonic page-creation counter.
func (s *Store) Count() uint64 { return s.count }

// TotalPages returns the number of pages currently held.
func (s *Store) TotalPages() int { return len(s.pages) }

// TotalSize returns the aggregate size of all held pages.
func (s *Store) TotalSize() int { return s.totalSize }

// AllocatedPoolSize returns the aggregate allocation high-water mark
// across held pages.
func (s *Store) AllocatedPoolSize() int {
	total := 0
	for _, p := range s.pages {
		total += p.AllocatedPoolSize()
	}
	return total
}

// Dump writes the page printouts of every held page.
func (s *Store) Dump(w io.Writer) {
	fmt.Fprintf(w, "page store: %s, pages: %d, total size: %d\n",
		s.baseName, len(s.pages), s.totalSize)
	for _, p := range s.pages {
		p.Dump(w)
	}
}
