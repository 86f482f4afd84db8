package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
)

// pebbleBatchRecords is how many records a writer buffers before committing.
const pebbleBatchRecords = 4096

// PebbleOptions configures a Pebble store.
type PebbleOptions struct {
	Dir       string // database directory, empty for a private temp directory
	Parent    string // parent of the private temp directory, empty for GetTempDir(_, true)
	Prefix    string // prefix of the private temp directory
	CacheSize int64  // block cache size in bytes, 0 for the pebble default
}

// Pebble keeps runs in a Pebble database. Record i of run id is stored under
// the 16 byte key id_be || i_be, so a run is one contiguous key range that
// iterates in write order.
type Pebble struct {
	db      *pebble.DB
	dir     string
	ownsDir bool
	ids     ids
	mu      sync.Mutex
	counts  map[RunID]int
	closed  bool
}

type pebbleWriter struct {
	store *Pebble
	id    RunID
	batch *pebble.Batch
	count int
	done  bool
}

type pebbleReader struct {
	iter    *pebble.Iterator
	started bool
}

// NewPebble opens (or creates) a Pebble store.
func NewPebble(opts PebbleOptions) (*Pebble, error) {
	dir := opts.Dir
	ownsDir := false
	if dir == "" {
		prefix := opts.Prefix
		if prefix == "" {
			prefix = fmt.Sprintf("extmerge_%d_", os.Getpid())
		}
		parent := GetTempDir(opts.Parent, true)
		if err := os.MkdirAll(parent, 0o700); err != nil {
			return nil, fmt.Errorf("create pebble directory: %w", err)
		}
		var err error
		dir, err = os.MkdirTemp(parent, prefix+"pebble_")
		if err != nil {
			return nil, fmt.Errorf("create pebble directory: %w", err)
		}
		ownsDir = true
	}
	pebbleOpts := &pebble.Options{}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		pebbleOpts.Cache = cache
	}
	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		if ownsDir {
			_ = os.RemoveAll(dir)
		}
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Pebble{db: db, dir: dir, ownsDir: ownsDir, counts: make(map[RunID]int)}, nil
}

func pebbleKey(id RunID, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[0:8], uint64(id))
	binary.BigEndian.PutUint64(k[8:16], seq)
	return k
}

// pebbleBounds returns the key range [lower, upper) holding run id.
func pebbleBounds(id RunID) ([]byte, []byte) {
	return pebbleKey(id, 0), pebbleKey(id+1, 0)
}

// Create starts a new run.
func (s *Pebble) Create(ctx context.Context) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &pebbleWriter{store: s, id: s.ids.next(), batch: s.db.NewBatch()}, nil
}

// Open returns an iterator-backed reader over run id.
func (s *Pebble) Open(ctx context.Context, id RunID) (Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	_, ok := s.counts[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	lower, upper := pebbleBounds(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("open run %d: %w", id, err)
	}
	return &pebbleReader{iter: iter}, nil
}

// Remove deletes the key range of run id.
func (s *Pebble) Remove(id RunID) error {
	s.mu.Lock()
	_, ok := s.counts[id]
	delete(s.counts, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	lower, upper := pebbleBounds(id)
	return s.db.DeleteRange(lower, upper, pebble.NoSync)
}

// Close closes the database, removing it when the store created it.
func (s *Pebble) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if s.ownsDir {
		err = errors.Join(err, os.RemoveAll(s.dir))
	}
	return err
}

func (w *pebbleWriter) Write(rec []byte) error {
	if w.done {
		return ErrClosed
	}
	if err := w.batch.Set(pebbleKey(w.id, uint64(w.count)), rec, nil); err != nil {
		return fmt.Errorf("write run %d: %w", w.id, err)
	}
	w.count++
	if w.count%pebbleBatchRecords == 0 {
		if err := w.batch.Commit(pebble.NoSync); err != nil {
			return fmt.Errorf("write run %d: %w", w.id, err)
		}
		_ = w.batch.Close()
		w.batch = w.store.db.NewBatch()
	}
	return nil
}

func (w *pebbleWriter) Close() (RunID, int, error) {
	if w.done {
		return NoRun, 0, ErrClosed
	}
	w.done = true
	err := w.batch.Commit(pebble.NoSync)
	_ = w.batch.Close()
	w.batch = nil
	if err != nil {
		return NoRun, 0, errors.Join(fmt.Errorf("close run %d: %w", w.id, err), w.deleteRange())
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.store.closed {
		return NoRun, 0, ErrClosed
	}
	w.store.counts[w.id] = w.count
	return w.id, w.count, nil
}

func (w *pebbleWriter) Abort() error {
	if w.done && w.batch == nil {
		return nil
	}
	w.done = true
	if w.batch != nil {
		_ = w.batch.Close()
		w.batch = nil
	}
	// earlier batches may already be committed
	return w.deleteRange()
}

func (w *pebbleWriter) deleteRange() error {
	if w.count < pebbleBatchRecords {
		return nil
	}
	lower, upper := pebbleBounds(w.id)
	return w.store.db.DeleteRange(lower, upper, pebble.NoSync)
}

func (r *pebbleReader) Next() ([]byte, error) {
	if r.iter == nil {
		return nil, ErrClosed
	}
	var ok bool
	if !r.started {
		r.started = true
		ok = r.iter.First()
	} else {
		ok = r.iter.Next()
	}
	if !ok {
		if err := r.iter.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// the value is only valid until the iterator moves
	return append([]byte(nil), r.iter.Value()...), nil
}

func (r *pebbleReader) Close() error {
	if r.iter == nil {
		return nil
	}
	err := r.iter.Close()
	r.iter = nil
	return err
}
