//go:build linux || darwin

package mapping

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/replicore/wscache/internal/logger"
)

// encryptedFactory produces mappings whose backing file holds only
// ciphertext.
type encryptedFactory struct {
	key      []byte
	pageSize int
}

// encryptedMapping keeps the plaintext in an anonymous memory region and
// encrypts towards the file on Sync and Unmap. The plaintext must stay
// resident: allocated buffers are handed out as sub-slices of the view and
// have to remain pointer-stable for their whole lifetime.
//
// Mappings are established over freshly truncated files, so the initial
// plaintext view is all zeroes and nothing needs decrypting up front.
// Reading back an existing ciphertext file is the Reader's job.
type encryptedMapping struct {
	plain    []byte
	file     *os.File
	key      []byte
	pageSize int
}

func (f *encryptedFactory) Map(file *os.File, size int) (Mapping, error) {
	plain, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("map plaintext region for %s: %w", file.Name(), err)
	}

	return &encryptedMapping{
		plain:    plain,
		file:     file,
		key:      f.key,
		pageSize: f.pageSize,
	}, nil
}

func (m *encryptedMapping) Bytes() []byte { return m.plain }

func (m *encryptedMapping) Size() int { return len(m.plain) }

// Sync encrypts the view cache page by cache page and writes the
// ciphertext to the file.
func (m *encryptedMapping) Sync() error {
	buf := make([]byte, m.pageSize)

	for off, idx := 0, int64(0); off < len(m.plain); off, idx = off+m.pageSize, idx+1 {
		end := min(off+m.pageSize, len(m.plain))
		chunk := m.plain[off:end]

		if err := xorPage(m.key, idx, buf[:len(chunk)], chunk); err != nil {
			return fmt.Errorf("encrypt page %d of %s: %w", idx, m.file.Name(), err)
		}
		if _, err := m.file.WriteAt(buf[:len(chunk)], int64(off)); err != nil {
			return fmt.Errorf("write page %d of %s: %w", idx, m.file.Name(), err)
		}
	}

	return nil
}

func (m *encryptedMapping) DontNeed() {
	if err := fadviseDontNeed(int(m.file.Fd()), int64(len(m.plain))); err != nil {
		logger.Warn("fadvise DONTNEED failed", logger.KeyPage, m.file.Name(), logger.KeyError, err)
	}
}

func (m *encryptedMapping) Unmap() error {
	if m.plain == nil {
		return nil
	}
	if err := m.Sync(); err != nil {
		return err
	}
	if err := unix.Munmap(m.plain); err != nil {
		return fmt.Errorf("unmap plaintext region of %s: %w", m.file.Name(), err)
	}
	m.plain = nil
	return nil
}
