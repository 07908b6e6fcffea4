// Package mapping provides byte-addressable views over page files.
//
// A Mapping is the raw storage a page allocates buffers from. The default
// implementation memory-maps the backing file directly. When encryption is
// enabled the factory returns a mapping that keeps a resident plaintext
// view and writes ciphertext to the file, so the file never contains clear
// page contents.
//
// The page store consumes mappings through the Factory interface and is
// agnostic to which implementation it gets.
package mapping

import (
	"fmt"
	"os"

	"github.com/replicore/wscache/internal/bytesize"
)

// Mapping is a writable byte view over a page file.
type Mapping interface {
	// Bytes returns the full view. The slice stays valid and
	// pointer-stable until Unmap.
	Bytes() []byte

	// Size returns the view length in bytes.
	Size() int

	// Sync flushes the view contents towards the backing file. The flush
	// is asynchronous where the platform allows it.
	Sync() error

	// DontNeed advises the operating system to drop cached pages backing
	// the view. Advisory failures are logged and swallowed.
	DontNeed()

	// Unmap releases the view. The file itself stays open; closing it is
	// the caller's job.
	Unmap() error
}

// Factory creates mappings over page files.
type Factory interface {
	// Map establishes a mapping of the given size over f. The file has
	// already been truncated to size by the caller.
	Map(f *os.File, size int) (Mapping, error)
}

// Config selects and parameterizes the mapping factory.
type Config struct {
	// Encrypt enables transparent encryption of page file contents.
	Encrypt bool

	// Key is the AES-256 key, 32 bytes. Required when Encrypt is set.
	Key []byte

	// CachePageSize is the encryption granularity: each cache page is an
	// independent CTR stream, so readers can decrypt pages individually.
	CachePageSize bytesize.ByteSize

	// CacheSize bounds the decrypted-page cache of read-side consumers
	// (see Reader). It does not affect the writable mapping.
	CacheSize bytesize.ByteSize
}

// NewFactory returns the mapping factory for the given configuration.
func NewFactory(cfg Config) (Factory, error) {
	if !cfg.Encrypt {
		return osFactory{}, nil
	}

	if len(cfg.Key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(cfg.Key))
	}
	if cfg.CachePageSize == 0 {
		return nil, fmt.Errorf("encryption cache page size must be positive")
	}

	return &encryptedFactory{
		key:      append([]byte(nil), cfg.Key...),
		pageSize: cfg.CachePageSize.Int(),
	}, nil
}
