package extmerge

import (
	"cmp"
	"slices"

	"github.com/lanrat/extmerge/queue"
)

// selector picks the input buffer whose head has the smallest key,
// ties going to the lowest buffer index.
// Fix and Retire may only be called for the index Min last returned.
type selector interface {
	Len() int
	Min() int
	Fix(i int)    // the head of buffer i changed
	Retire(i int) // buffer i is empty and its run exhausted
}

func (s *Sorter[K]) newSelector(inputs []*Buffer[K]) selector {
	if len(inputs) > s.config.HeapThreshold {
		return newHeapSelector(inputs)
	}
	return newScanSelector(inputs)
}

// scanSelector compares every live head, left to right.
type scanSelector[K cmp.Ordered] struct {
	inputs []*Buffer[K]
	live   []int
}

func newScanSelector[K cmp.Ordered](inputs []*Buffer[K]) *scanSelector[K] {
	sel := &scanSelector[K]{inputs: inputs}
	for i, b := range inputs {
		if !b.Empty() {
			sel.live = append(sel.live, i)
		}
	}
	return sel
}

func (sel *scanSelector[K]) Len() int { return len(sel.live) }

func (sel *scanSelector[K]) Min() int {
	best := sel.live[0]
	bestKey := sel.inputs[best].Peek().Key
	for _, i := range sel.live[1:] {
		// strictly less, so an equal key never displaces a lower index
		if k := sel.inputs[i].Peek().Key; cmp.Less(k, bestKey) {
			best, bestKey = i, k
		}
	}
	return best
}

func (sel *scanSelector[K]) Fix(int) {}

func (sel *scanSelector[K]) Retire(i int) {
	if at := slices.Index(sel.live, i); at >= 0 {
		sel.live = slices.Delete(sel.live, at, at+1)
	}
}

// heapSelector keeps the live buffer indexes in a priority queue ordered by
// (head key, index).
type heapSelector[K cmp.Ordered] struct {
	q *queue.PriorityQueue[int]
}

func newHeapSelector[K cmp.Ordered](inputs []*Buffer[K]) *heapSelector[K] {
	q := queue.NewPriorityQueue(func(a, b int) bool {
		if c := cmp.Compare(inputs[a].Peek().Key, inputs[b].Peek().Key); c != 0 {
			return c < 0
		}
		return a < b
	})
	for i, b := range inputs {
		if !b.Empty() {
			q.Push(i)
		}
	}
	return &heapSelector[K]{q: q}
}

func (sel *heapSelector[K]) Len() int   { return sel.q.Len() }
func (sel *heapSelector[K]) Min() int   { return sel.q.Peek() }
func (sel *heapSelector[K]) Fix(int)    { sel.q.PeekUpdate() }
func (sel *heapSelector[K]) Retire(int) { sel.q.Pop() }
