package extmerge

import (
	"cmp"
	"context"
	"errors"
	"io"

	"github.com/lanrat/extmerge/store"
)

// runSource reads the records of one run into a buffer, block by block.
// It trusts the run's recorded length, not the store, to decide when the
// run is exhausted: a store that ends early is an error.
type runSource[K cmp.Ordered] struct {
	run    Run
	codec  Codec[K]
	reader store.Reader
	read   int
}

func (s *Sorter[K]) openSource(ctx context.Context, run Run) (*runSource[K], error) {
	src := &runSource[K]{run: run, codec: s.codec}
	if run.Empty() {
		return src, nil
	}
	r, err := s.store.Open(ctx, run.ID)
	if err != nil {
		return nil, &ExhaustedSourceError{Run: run, Want: run.Len, Cause: err}
	}
	src.reader = r
	return src, nil
}

// HasMore reports whether the run still has unread records.
func (src *runSource[K]) HasMore() bool {
	return src.read < src.run.Len
}

// ReadBlock fills dst from the run until dst is full or the run is exhausted.
func (src *runSource[K]) ReadBlock(dst *Buffer[K]) error {
	for !dst.Full() && src.HasMore() {
		b, err := src.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrShortRun
			}
			return &ExhaustedSourceError{Run: src.run, Want: src.run.Len, Got: src.read, Cause: err}
		}
		rec, err := src.codec.decode(b)
		if err != nil {
			return err
		}
		dst.Push(rec)
		src.read++
	}
	return nil
}

func (src *runSource[K]) Close() error {
	if src.reader == nil {
		return nil
	}
	err := src.reader.Close()
	src.reader = nil
	return err
}

// runSink writes flushed output buffers to a new run.
type runSink[K cmp.Ordered] struct {
	w          store.Writer
	codec      Codec[K]
	generation int
	done       bool
}

func (s *Sorter[K]) createSink(ctx context.Context, generation int) (*runSink[K], error) {
	w, err := s.store.Create(ctx)
	if err != nil {
		return nil, NewDiskError(err, "create", Run{})
	}
	return &runSink[K]{w: w, codec: s.codec, generation: generation}, nil
}

// Flush empties out into the run and returns the number of records written.
func (k *runSink[K]) Flush(out *Buffer[K]) (int, error) {
	n := 0
	for !out.Empty() {
		b, err := k.codec.encode(out.Pop())
		if err != nil {
			return n, err
		}
		if err := k.w.Write(b); err != nil {
			return n, NewDiskError(err, "write", Run{})
		}
		n++
	}
	return n, nil
}

// WriteAll writes recs in order.
func (k *runSink[K]) WriteAll(recs []Record[K]) error {
	for _, r := range recs {
		b, err := k.codec.encode(r)
		if err != nil {
			return err
		}
		if err := k.w.Write(b); err != nil {
			return NewDiskError(err, "write", Run{})
		}
	}
	return nil
}

// Close commits the run.
func (k *runSink[K]) Close() (Run, error) {
	k.done = true
	id, n, err := k.w.Close()
	if err != nil {
		return Run{}, NewDiskError(err, "commit", Run{})
	}
	return Run{ID: id, Generation: k.generation, Len: n}, nil
}

// Abort discards the run unless it was already committed.
func (k *runSink[K]) Abort() error {
	if k.done {
		return nil
	}
	k.done = true
	return k.w.Abort()
}
