package diff

import "context"

// ChanResult is one difference sent by a ResultChan.
type ChanResult[T any] struct {
	D    Delta
	Item T
}

// ResultChan returns a ResultFunc that sends every difference to the
// returned channel, so results can be consumed in another goroutine while
// the diff runs. A send blocked when ctx is done fails with the context
// error, which stops the diff. The caller closes the channel once the diff
// returned.
func ResultChan[T any](ctx context.Context, size int) (ResultFunc[T], chan *ChanResult[T]) {
	c := make(chan *ChanResult[T], size)
	f := func(d Delta, item T) error {
		select {
		case c <- &ChanResult[T]{D: d, Item: item}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f, c
}
