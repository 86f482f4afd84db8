// Package diff compares two sorted streams and reports the items that
// exist in only one of them. Both streams must already be sorted by the
// same order; this is not validated.
package diff

import (
	"cmp"
	"context"
	"fmt"
	"iter"
)

// differ holds the state of one comparison.
type differ[T any] struct {
	ctx        context.Context
	nextA      func() (T, error, bool)
	nextB      func() (T, error, bool)
	resultFunc ResultFunc[T]
	compare    CompareFunc[T]
}

// Generic walks a and b in step, calling resultFunc for each item that
// exists in only one of them. A stream that yields a non-nil error stops
// the diff with that error.
func Generic[T any](ctx context.Context, a, b iter.Seq2[T, error], compareFunc CompareFunc[T], resultFunc ResultFunc[T]) (Result, error) {
	if ctx == nil || a == nil || b == nil || compareFunc == nil || resultFunc == nil {
		return Result{}, fmt.Errorf("arguments must not be nil")
	}
	nextA, stopA := iter.Pull2(a)
	defer stopA()
	nextB, stopB := iter.Pull2(b)
	defer stopB()

	d := differ[T]{
		ctx:        ctx,
		nextA:      nextA,
		nextB:      nextB,
		resultFunc: resultFunc,
		compare:    compareFunc,
	}
	return d.diff()
}

// Ordered is Generic using cmp.Compare.
func Ordered[T cmp.Ordered](ctx context.Context, a, b iter.Seq2[T, error], resultFunc ResultFunc[T]) (Result, error) {
	return Generic(ctx, a, b, cmp.Compare[T], resultFunc)
}

// Values adapts an error-free sequence for Generic.
func Values[T any](seq iter.Seq[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// pull reads the next item of a stream, checking ctx first.
func (d *differ[T]) pull(next func() (T, error, bool)) (T, bool, error) {
	var zero T
	if err := d.ctx.Err(); err != nil {
		return zero, false, err
	}
	v, err, ok := next()
	if !ok {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (d *differ[T]) diff() (r Result, err error) {
	dataA, okA, err := d.pull(d.nextA)
	if err != nil {
		return r, err
	}
	dataB, okB, err := d.pull(d.nextB)
	if err != nil {
		return r, err
	}
	for okA && okB {
		c := d.compare(dataA, dataB)
		switch {
		case c > 0:
			r.TotalB++
			r.ExtraB++
			if err = d.resultFunc(NEW, dataB); err != nil {
				return
			}
			if dataB, okB, err = d.pull(d.nextB); err != nil {
				return
			}
		case c < 0:
			r.TotalA++
			r.ExtraA++
			if err = d.resultFunc(OLD, dataA); err != nil {
				return
			}
			if dataA, okA, err = d.pull(d.nextA); err != nil {
				return
			}
		default:
			// common
			r.Common++
			r.TotalA++
			r.TotalB++
			if dataA, okA, err = d.pull(d.nextA); err != nil {
				return
			}
			if dataB, okB, err = d.pull(d.nextB); err != nil {
				return
			}
		}
	}
	// if only A has data left
	for okA {
		r.TotalA++
		r.ExtraA++
		if err = d.resultFunc(OLD, dataA); err != nil {
			return
		}
		if dataA, okA, err = d.pull(d.nextA); err != nil {
			return
		}
	}
	// if only B has data left
	for okB {
		r.TotalB++
		r.ExtraB++
		if err = d.resultFunc(NEW, dataB); err != nil {
			return
		}
		if dataB, okB, err = d.pull(d.nextB); err != nil {
			return
		}
	}
	return
}

// PrintDiff is a ResultFunc that prints each difference to stdout,
// prefixed by its Delta symbol.
func PrintDiff[T any](d Delta, s T) error {
	_, err := fmt.Printf("%s %v\n", d, s)
	return err
}
