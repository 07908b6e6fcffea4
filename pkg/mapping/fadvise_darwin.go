//go:build darwin

package mapping

// Darwin has no posix_fadvise; the mmap-level advice is all we get.
func fadviseDontNeed(fd int, size int64) error {
	return nil
}
