// Package cache is the coordinator in front of the page store: it owns
// the allocation lock every store operation relies on, assigns global
// sequence numbers to committed write-sets, and serves seqno lookups for
// peers catching up.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/replicore/wscache/internal/logger"
	"github.com/replicore/wscache/pkg/config"
	"github.com/replicore/wscache/pkg/mapping"
	"github.com/replicore/wscache/pkg/pagestore"
)

// ErrNotFound is returned when a seqno has no buffer in the cache.
var ErrNotFound = errors.New("seqno not found")

// ErrNonMonotonicSeqno is returned when a seqno assignment does not
// advance the commit order.
var ErrNonMonotonicSeqno = errors.New("seqno assignment out of order")

// Cache retains recently committed write-sets so lagging peers can be
// brought up to date without a full state transfer.
//
// All operations are safe for concurrent use; the cache serializes them
// with a single mutex, which is the lock the page store's contract
// refers to.
type Cache struct {
	mu     sync.Mutex
	cfg    *config.Config
	params *config.Registry
	store  *pagestore.Store

	// seqno index for peer catch-up, insertion-ordered. Assignment is
	// monotonic, so the slice stays sorted.
	seqnos  []int64
	buffers map[int64]pagestore.Buffer
}

// New builds the cache from configuration. The metrics sink may be nil.
func New(cfg *config.Config, metrics pagestore.Metrics) (*Cache, error) {
	factory, err := newMappingFactory(cfg)
	if err != nil {
		return nil, err
	}

	dir, stem := pageLocation(cfg)
	store, err := pagestore.New(pagestore.Options{
		Dir:       dir,
		Name:      stem,
		KeepSize:  cfg.KeepPagesSize.Int(),
		PageSize:  cfg.PageSize.Int(),
		KeepCount: cfg.KeepPagesCount,
		Debug:     cfg.Debug,
		Factory:   factory,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		store:   store,
		buffers: make(map[int64]pagestore.Buffer),
	}

	c.params = config.NewRegistry(cfg)
	c.params.OnChange(config.ParamPageSize, func() {
		store.SetPageSize(cfg.PageSize.Int())
	})
	c.params.OnChange(config.ParamKeepPagesSize, func() {
		store.SetKeepSize(cfg.KeepPagesSize.Int())
	})
	c.params.OnChange(config.ParamKeepPagesCount, func() {
		store.SetKeepCount(cfg.KeepPagesCount)
	})
	c.params.OnChange(config.ParamDebug, func() {
		store.SetDebug(cfg.Debug)
	})

	return c, nil
}

// pageLocation derives the page file directory and base stem. Pages
// borrow the cache file's directory when the configured name is an
// absolute path.
func pageLocation(cfg *config.Config) (dir, stem string) {
	name := cfg.Name
	dir = cfg.Dir

	if filepath.IsAbs(name) {
		dir = filepath.Dir(name)
		name = filepath.Base(name)
	}
	if dir == "" {
		dir = "."
	}

	stem = strings.TrimSuffix(name, filepath.Ext(name))
	return dir, stem
}

// newMappingFactory builds the mapping factory, loading the encryption
// key when encryption is on.
func newMappingFactory(cfg *config.Config) (mapping.Factory, error) {
	mc := mapping.Config{}

	if cfg.Encryption.Enabled {
		key, err := os.ReadFile(cfg.Encryption.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read encryption key: %w", err)
		}

		mc = mapping.Config{
			Encrypt:       true,
			Key:           key,
			CachePageSize: cfg.Encryption.CachePageSize,
			CacheSize:     cfg.Encryption.CacheSize,
		}
	}

	return mapping.NewFactory(mc)
}

// Malloc allocates a buffer for a write-set of size payload bytes.
func (c *Cache) Malloc(size int) (pagestore.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Malloc(size + pagestore.HeaderSize)
}

// Realloc resizes a buffer to size payload bytes.
func (c *Cache) Realloc(b pagestore.Buffer, size int) (pagestore.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nb, err := c.store.Realloc(b, size+pagestore.HeaderSize)
	if err != nil {
		return pagestore.Buffer{}, err
	}

	// A moved buffer keeps its seqno; repoint the index at the copy.
	if seqno := nb.Seqno(); seqno > 0 && nb != b {
		c.buffers[seqno] = nb
	}

	return nb, nil
}

// Discard drops a buffer that never got a seqno (a rolled back
// write-set).
func (c *Cache) Discard(b pagestore.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Free(b)
	b.SetSeqno(pagestore.SeqnoIll)
	c.store.Discard(b)
}

// SeqnoAssign records b as the write-set committed at seqno. Assignments
// must advance monotonically.
func (c *Cache) SeqnoAssign(b pagestore.Buffer, seqno int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seqno <= c.lastSeqno() {
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonicSeqno, seqno, c.lastSeqno())
	}

	b.SetSeqno(seqno)
	c.seqnos = append(c.seqnos, seqno)
	c.buffers[seqno] = b
	return nil
}

// Get returns the buffer committed at seqno for peer catch-up reads.
func (c *Cache) Get(seqno int64) (pagestore.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buffers[seqno]
	if !ok {
		return pagestore.Buffer{}, fmt.Errorf("%w: %d", ErrNotFound, seqno)
	}
	return b, nil
}

// ReleaseUpTo releases every assigned buffer with seqno at or below the
// given bound, returning the count released. This is the purge step that
// lets pages empty out and be reclaimed.
func (c *Cache) ReleaseUpTo(seqno int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	released := 0
	for len(c.seqnos) > 0 && c.seqnos[0] <= seqno {
		s := c.seqnos[0]
		c.seqnos = c.seqnos[1:]

		b := c.buffers[s]
		delete(c.buffers, s)

		c.store.Free(b)
		b.SetSeqno(pagestore.SeqnoIll)
		c.store.Discard(b)
		released++
	}

	if released > 0 {
		logger.Debug("released write-sets",
			logger.KeySeqno, seqno, "count", released)
	}
	return released
}

// MinSeqno returns the oldest retained seqno, or zero when the cache
// holds nothing.
func (c *Cache) MinSeqno() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.seqnos) == 0 {
		return 0
	}
	return c.seqnos[0]
}

// MaxSeqno returns the newest retained seqno, or zero when the cache
// holds nothing.
func (c *Cache) MaxSeqno() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeqno()
}

func (c *Cache) lastSeqno() int64 {
	if len(c.seqnos) == 0 {
		return 0
	}
	return c.seqnos[len(c.seqnos)-1]
}

// SetParam mutates a runtime parameter. Read-only and unknown parameters
// fail with config.ErrReadOnlyParameter and config.ErrUnknownParameter
// respectively.
func (c *Cache) SetParam(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.params.Set(key, value); err != nil {
		return err
	}
	logger.Info("parameter changed", logger.KeyParam, key, "value", value)
	return nil
}

// Param returns the current value of a parameter.
func (c *Cache) Param(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.Get(key)
}

// Reset drops every retained write-set and clears all pages. Used at
// startup and when the node falls back to a full state transfer.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.seqnos {
		b := c.buffers[s]
		c.store.Free(b)
		b.SetSeqno(pagestore.SeqnoIll)
		c.store.Discard(b)
	}
	c.seqnos = nil
	c.buffers = make(map[int64]pagestore.Buffer)

	c.store.Reset()
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Pages         int
	TotalSize     int
	AllocatedPool int
	Retained      int
	MinSeqno      int64
	MaxSeqno      int64
}

// Stats returns a snapshot of the cache state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Pages:         c.store.TotalPages(),
		TotalSize:     c.store.TotalSize(),
		AllocatedPool: c.store.AllocatedPoolSize(),
		Retained:      len(c.seqnos),
	}
	if len(c.seqnos) > 0 {
		st.MinSeqno = c.seqnos[0]
		st.MaxSeqno = c.seqnos[len(c.seqnos)-1]
	}
	return st
}

// Dump writes the page printouts for diagnostics.
func (c *Cache) Dump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Dump(w)
}

// Close releases the store's background resources. Retained buffers are
// not flushed anywhere; page contents do not survive the process.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Close()
}
