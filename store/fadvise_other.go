//go:build !linux

package store

// fadviseSequential is a no-op on non-Linux platforms.
func fadviseSequential(fd uintptr, offset, length int64) {}

// fadviseDontNeed is a no-op on non-Linux platforms.
func fadviseDontNeed(fd uintptr) {}
