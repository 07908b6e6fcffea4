//go:build linux

package mapping

import "golang.org/x/sys/unix"

func fadviseDontNeed(fd int, size int64) error {
	return unix.Fadvise(fd, 0, size, unix.FADV_DONTNEED)
}
