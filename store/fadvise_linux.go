//go:build linux

package store

import "golang.org/x/sys/unix"

// fadviseSequential hints that the run body will be read front to back.
// Best-effort: errors are ignored.
func fadviseSequential(fd uintptr, offset, length int64) {
	_ = unix.Fadvise(int(fd), offset, length, unix.FADV_SEQUENTIAL)
}

// fadviseDontNeed drops the pages of a fully consumed run from the page cache
// so reading runs does not grow memory beyond the buffer pool.
func fadviseDontNeed(fd uintptr) {
	_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_DONTNEED)
}
