package store

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-memory Store. Runs are kept as slices of records.
// This is useful for testing and for inputs that only need the bounded
// buffer discipline without filesystem I/O.
type Memory struct {
	mu     sync.RWMutex
	runs   map[RunID][][]byte
	ids    ids
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[RunID][][]byte)}
}

type memoryWriter struct {
	m    *Memory
	recs [][]byte
	done bool
}

type memoryReader struct {
	recs [][]byte
	pos  int
}

// Create starts a new in-memory run.
func (m *Memory) Create(ctx context.Context) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memoryWriter{m: m}, nil
}

// Open returns a reader over run id.
func (m *Memory) Open(ctx context.Context, id RunID) (Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	recs, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return &memoryReader{recs: recs}, nil
}

// Remove drops run id.
func (m *Memory) Remove(id RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	delete(m.runs, id)
	return nil
}

// Len returns the number of runs currently held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

// Close releases all runs.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = nil
	m.closed = true
	return nil
}

func (w *memoryWriter) Write(rec []byte) error {
	if w.done {
		return ErrClosed
	}
	w.recs = append(w.recs, rec)
	return nil
}

func (w *memoryWriter) Close() (RunID, int, error) {
	if w.done {
		return NoRun, 0, ErrClosed
	}
	w.done = true
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.closed {
		return NoRun, 0, ErrClosed
	}
	id := w.m.ids.next()
	w.m.runs[id] = w.recs
	return id, len(w.recs), nil
}

func (w *memoryWriter) Abort() error {
	w.done = true
	w.recs = nil
	return nil
}

func (r *memoryReader) Next() ([]byte, error) {
	if r.pos >= len(r.recs) {
		return nil, io.EOF
	}
	rec := r.recs[r.pos]
	r.pos++
	return rec, nil
}

func (r *memoryReader) Close() error {
	r.recs = nil
	return nil
}
