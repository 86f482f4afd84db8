package extmerge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/lanrat/extmerge/store"
)

// Sorter performs bounded-memory external merge sorts of Record[K].
// At no point does a pass hold more than NumBuffers*BufferSize records
// per pool, and every group merge owns exactly one pool.
type Sorter[K cmp.Ordered] struct {
	config    Config
	codec     Codec[K]
	store     store.Store
	ownsStore bool
	logger    *slog.Logger
	observer  Observer

	mu    sync.Mutex
	stats []PassStats
}

// Option customises a Sorter.
type Option[K cmp.Ordered] func(*Sorter[K])

// WithCodec sets the key codec. The default is GobCodec.
func WithCodec[K cmp.Ordered](c Codec[K]) Option[K] {
	return func(s *Sorter[K]) {
		s.codec = c
	}
}

// WithStore makes the Sorter keep its runs in st instead of opening the
// store named by Config.Store. The caller keeps ownership of st.
func WithStore[K cmp.Ordered](st store.Store) Option[K] {
	return func(s *Sorter[K]) {
		s.store = st
	}
}

// New creates a Sorter. A nil config uses DefaultConfig.
func New[K cmp.Ordered](config *Config, opts ...Option[K]) (*Sorter[K], error) {
	config = mergeConfig(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Sorter[K]{
		config:   *config,
		codec:    GobCodec[K](),
		logger:   config.Logger,
		observer: config.Observer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		st, err := openStore(config)
		if err != nil {
			return nil, err
		}
		s.store = st
		s.ownsStore = true
	}
	return s, nil
}

func openStore(c *Config) (store.Store, error) {
	switch c.Store {
	case StoreMemory:
		return store.NewMemory(), nil
	case StoreFile:
		st, err := store.NewFile(store.FileOptions{
			Dir:      c.TempFilesDir,
			Prefix:   c.MergeFilenamePrefix,
			Compress: c.Compress,
			Mmap:     c.Mmap,
		})
		if err != nil {
			return nil, NewDiskError(err, "open file store", Run{})
		}
		return st, nil
	case StorePebble:
		st, err := store.NewPebble(store.PebbleOptions{
			Parent: c.TempFilesDir,
			Prefix: c.MergeFilenamePrefix,
		})
		if err != nil {
			return nil, NewDiskError(err, "open pebble store", Run{})
		}
		return st, nil
	}
	return nil, &ConfigError{Field: "Store", Value: c.Store, Reason: "unknown run store"}
}

// Config returns the effective configuration.
func (s *Sorter[K]) Config() Config {
	return s.config
}

// Store returns the run store.
func (s *Sorter[K]) Store() store.Store {
	return s.store
}

// Sort sorts input and returns the single run holding the result.
// The returned run belongs to the caller: read it with Records or Collect
// and drop it with Release. Empty input yields an empty run.
func (s *Sorter[K]) Sort(ctx context.Context, input iter.Seq[Record[K]]) (Run, error) {
	s.mu.Lock()
	s.stats = nil
	s.mu.Unlock()

	reg, err := s.GenerateRuns(ctx, input)
	if err != nil {
		return Run{}, err
	}
	for pass := 1; len(reg) > 1; pass++ {
		next, err := s.MergePass(ctx, pass, reg)
		for err != nil {
			var passErr *PassError
			if !errors.As(err, &passErr) || !passErr.Retryable() || passErr.Retries() >= s.config.MaxGroupRetries {
				break
			}
			s.logger.Warn("retrying failed groups", "pass", pass, "failed", len(passErr.Groups), "error", passErr)
			next, err = s.RetryPass(ctx, passErr)
		}
		if err != nil {
			var passErr *PassError
			if errors.As(err, &passErr) {
				s.releaseNew(reg, passErr.Partial)
			}
			s.release(reg)
			return Run{}, err
		}
		s.releaseConsumed(reg, next)
		reg = next
	}
	if len(reg) == 0 {
		return Run{Generation: 0}, nil
	}
	s.logger.Debug("sort complete", "run", reg[0].ID, "generation", reg[0].Generation, "records", reg[0].Len)
	return reg[0], nil
}

// releaseConsumed removes the runs of prev that did not pass through to next.
func (s *Sorter[K]) releaseConsumed(prev, next Registry) {
	keep := make(map[store.RunID]bool, len(next))
	for _, r := range next {
		keep[r.ID] = true
	}
	for _, r := range prev {
		if !keep[r.ID] {
			s.release(Registry{r})
		}
	}
}

// releaseNew removes the runs of out that are not part of prev.
func (s *Sorter[K]) releaseNew(prev, out Registry) {
	old := make(map[store.RunID]bool, len(prev))
	for _, r := range prev {
		old[r.ID] = true
	}
	for _, r := range out {
		if !old[r.ID] {
			s.release(Registry{r})
		}
	}
}

func (s *Sorter[K]) release(reg Registry) {
	for _, r := range reg {
		if err := s.Release(r); err != nil {
			s.logger.Warn("remove run", "run", r.ID, "error", err)
		}
	}
}

// Release removes run from the store. Empty runs are not stored and are ignored.
func (s *Sorter[K]) Release(run Run) error {
	if run.ID == store.NoRun {
		return nil
	}
	if err := s.store.Remove(run.ID); err != nil {
		return NewDiskError(err, "remove", run)
	}
	return nil
}

// Records returns the records of run in order, reading at most BufferSize
// records at a time. Iteration stops at the first error, which is yielded.
func (s *Sorter[K]) Records(ctx context.Context, run Run) iter.Seq2[Record[K], error] {
	return func(yield func(Record[K], error) bool) {
		if run.Empty() {
			return
		}
		src, err := s.openSource(ctx, run)
		if err != nil {
			yield(Record[K]{}, err)
			return
		}
		defer src.Close()
		buf := NewBuffer[K](s.config.BufferSize)
		for {
			if buf.Empty() {
				if !src.HasMore() {
					return
				}
				if err := src.ReadBlock(buf); err != nil {
					yield(Record[K]{}, err)
					return
				}
			}
			if !yield(buf.Pop(), nil) {
				return
			}
		}
	}
}

// Collect reads every record of run into memory.
func (s *Sorter[K]) Collect(ctx context.Context, run Run) ([]Record[K], error) {
	out := make([]Record[K], 0, run.Len)
	for r, err := range s.Records(ctx, run) {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Stats returns the statistics of every pass of the last Sort, pass 0 first.
func (s *Sorter[K]) Stats() []PassStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PassStats(nil), s.stats...)
}

func (s *Sorter[K]) finishPass(st PassStats) {
	s.mu.Lock()
	s.stats = append(s.stats, st)
	s.mu.Unlock()
	s.observer.PassFinished(st)
}

// Close releases the store if the Sorter opened it.
func (s *Sorter[K]) Close() error {
	if !s.ownsStore {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close run store: %w", err)
	}
	return nil
}

// Sort sorts input with a temporary Sorter and returns the records in order.
// A nil config uses DefaultConfig.
func Sort[K cmp.Ordered](ctx context.Context, input iter.Seq[Record[K]], config *Config, opts ...Option[K]) (out []Record[K], err error) {
	s, err := New[K](config, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	run, err := s.Sort(ctx, input)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, s.Release(run))
	}()
	return s.Collect(ctx, run)
}

// SortKeys sorts a slice of keys with a temporary Sorter.
func SortKeys[K cmp.Ordered](ctx context.Context, keys []K, config *Config, opts ...Option[K]) ([]K, error) {
	recs, err := Sort(ctx, FromKeys(keys...), config, opts...)
	if err != nil {
		return nil, err
	}
	return Keys(recs), nil
}
