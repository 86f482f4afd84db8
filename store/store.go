// Package store implements run backing stores for the merge engine.
// A run is written once, sequentially, then read back sequentially (possibly
// by several readers at once) and finally removed.
// Records are opaque byte slices; framing and checksums are the store's concern.
package store

import (
	"context"
	"errors"
	"sync/atomic"
)

// RunID identifies a run inside a Store. The zero value never names a stored run.
type RunID uint64

// NoRun is the RunID of a run that was never written, such as the empty run.
const NoRun RunID = 0

var (
	// ErrClosed is returned by operations on a closed store, writer or reader.
	ErrClosed = errors.New("store: closed")
	// ErrNotFound is returned when opening or removing an unknown run.
	ErrNotFound = errors.New("store: run not found")
	// ErrBadMagic is returned when a run file does not start with the run magic.
	ErrBadMagic = errors.New("store: invalid run magic")
	// ErrBadVersion is returned for run files written by an unknown format version.
	ErrBadVersion = errors.New("store: unsupported run version")
	// ErrTruncated is returned when a run ends before its recorded record count.
	ErrTruncated = errors.New("store: run is truncated")
	// ErrChecksum is returned when the run checksum does not match its records.
	ErrChecksum = errors.New("store: run checksum mismatch")
	// ErrCorrupt is returned for record framing that cannot be valid.
	ErrCorrupt = errors.New("store: run is corrupted")
)

// Writer appends records to a new run.
type Writer interface {
	// Write appends one record. The store may retain rec after Write returns.
	Write(rec []byte) error

	// Close commits the run and returns its id and record count.
	// After Close the run is readable and the Writer can no longer be used.
	Close() (RunID, int, error)

	// Abort discards everything written so far.
	Abort() error
}

// Reader reads the records of a committed run in write order.
type Reader interface {
	// Next returns the next record, or io.EOF after the last one.
	// A run that ends before its recorded count yields an error wrapping ErrTruncated.
	Next() ([]byte, error)

	// Close releases the reader. It does not remove the run.
	Close() error
}

// Store is a run backing store. Implementations are safe for concurrent use;
// any number of writers and readers may be active at once.
type Store interface {
	// Create starts a new run.
	Create(ctx context.Context) (Writer, error)

	// Open returns a reader positioned at the first record of run id.
	Open(ctx context.Context, id RunID) (Reader, error)

	// Remove deletes run id.
	Remove(id RunID) error

	// Close releases the store and everything it still holds.
	Close() error
}

// ids hands out run ids for a single store instance.
type ids struct {
	last atomic.Uint64
}

func (i *ids) next() RunID {
	return RunID(i.last.Add(1))
}
