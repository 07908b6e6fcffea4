package mapping

import (
	"fmt"
	"io"
	"os"

	"github.com/dgraph-io/ristretto/v2"
)

// Reader provides random-access reads over an existing page file, plain
// or encrypted. Decrypted cache pages are held in a ristretto cache
// bounded by the configured cache size, so walking a large encrypted file
// does not decrypt the same page twice in a row and does not hold the
// whole plaintext in memory either.
//
// Reader is used by offline tooling (page inspection); the page store
// itself never reads files back.
type Reader struct {
	file     *os.File
	size     int64
	encrypt  bool
	key      []byte
	pageSize int
	cache    *ristretto.Cache[int64, []byte]
}

// NewReader opens path for reading with the given mapping configuration.
func NewReader(path string, cfg Config) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat page file: %w", err)
	}

	r := &Reader{
		file:    f,
		size:    info.Size(),
		encrypt: cfg.Encrypt,
	}

	if cfg.Encrypt {
		if len(cfg.Key) != keySize {
			f.Close()
			return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(cfg.Key))
		}
		if cfg.CachePageSize == 0 {
			f.Close()
			return nil, fmt.Errorf("encryption cache page size must be positive")
		}

		r.key = append([]byte(nil), cfg.Key...)
		r.pageSize = cfg.CachePageSize.Int()

		maxCost := int64(cfg.CacheSize)
		if maxCost <= 0 {
			maxCost = 64 * int64(r.pageSize)
		}

		cache, err := ristretto.NewCache(&ristretto.Config[int64, []byte]{
			NumCounters: max(64, 10*maxCost/int64(r.pageSize)),
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create page cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

// Size returns the file size in bytes.
func (r *Reader) Size() int64 { return r.size }

// ReadAt implements io.ReaderAt over the decrypted file contents.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}

	if !r.encrypt {
		return r.file.ReadAt(p, off)
	}

	n := 0
	for n < len(p) && off < r.size {
		page, err := r.page(off / int64(r.pageSize))
		if err != nil {
			return n, err
		}

		inPage := int(off % int64(r.pageSize))
		n += copy(p[n:], page[inPage:])
		off = (off/int64(r.pageSize) + 1) * int64(r.pageSize)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// page returns the decrypted cache page with the given index.
func (r *Reader) page(idx int64) ([]byte, error) {
	if page, ok := r.cache.Get(idx); ok {
		return page, nil
	}

	off := idx * int64(r.pageSize)
	end := min(off+int64(r.pageSize), r.size)

	raw := make([]byte, end-off)
	if _, err := r.file.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", idx, err)
	}

	if err := xorPage(r.key, idx, raw, raw); err != nil {
		return nil, fmt.Errorf("decrypt page %d: %w", idx, err)
	}

	r.cache.Set(idx, raw, int64(len(raw)))
	return raw, nil
}

// Close releases the file and the page cache.
func (r *Reader) Close() error {
	if r.cache != nil {
		r.cache.Close()
	}
	return r.file.Close()
}
