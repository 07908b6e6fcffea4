//go:build linux || darwin

package mapping

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/replicore/wscache/internal/logger"
)

// osFactory maps page files directly with mmap.
type osFactory struct{}

// osMapping is a plain MAP_SHARED view over the file. Stores the fd so
// DontNeed can also advise the file cache, not just the mapping.
type osMapping struct {
	data []byte
	fd   int
	name string
}

func (osFactory) Map(f *os.File, size int) (Mapping, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}

	return &osMapping{data: data, fd: int(f.Fd()), name: f.Name()}, nil
}

func (m *osMapping) Bytes() []byte { return m.data }

func (m *osMapping) Size() int { return len(m.data) }

func (m *osMapping) Sync() error {
	if err := unix.Msync(m.data, unix.MS_ASYNC); err != nil {
		return fmt.Errorf("msync %s: %w", m.name, err)
	}
	return nil
}

func (m *osMapping) DontNeed() {
	if err := unix.Madvise(m.data, unix.MADV_DONTNEED); err != nil {
		logger.Warn("madvise DONTNEED failed", logger.KeyPage, m.name, logger.KeyError, err)
	}
	if err := fadviseDontNeed(m.fd, int64(len(m.data))); err != nil {
		logger.Warn("fadvise DONTNEED failed", logger.KeyPage, m.name, logger.KeyError, err)
	}
}

func (m *osMapping) Unmap() error {
	if m.data == nil {
		return nil
	}
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("munmap %s: %w", m.name, err)
	}
	m.data = nil
	return nil
}
