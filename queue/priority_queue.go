// Package queue provides a generic priority queue implementation based on container/heap.
// The merge engine uses it to select the input buffer with the smallest head
// when a group merges too many runs for a linear scan.
package queue

// Priority queue based on
// https://golang.org/pkg/container/heap/#example__priorityQueue

import (
	"container/heap"
)

// innerPriorityQueue implements heap.Interface
type innerPriorityQueue[E any] struct {
	items    []E
	lessFunc func(E, E) bool
}

// PriorityQueue implemented using a heap.
// The order among elements the less function considers equal is unspecified,
// so callers that need a deterministic order must break ties inside lessFunc.
type PriorityQueue[E any] struct {
	ipq innerPriorityQueue[E]
}

// NewPriorityQueue creates a new heap based PriorityQueue using lessFunc as the comparison function
func NewPriorityQueue[E any](lessFunc func(E, E) bool) *PriorityQueue[E] {
	var pq PriorityQueue[E]
	pq.ipq.lessFunc = lessFunc
	return &pq
}

// Len returns the number of items in the queue
func (pq *PriorityQueue[E]) Len() int {
	return pq.ipq.Len()
}

// Push adds x to the queue
func (pq *PriorityQueue[E]) Push(x E) {
	heap.Push(&pq.ipq, x)
}

// Pop removes and returns the smallest item in the queue
func (pq *PriorityQueue[E]) Pop() E {
	return heap.Pop(&pq.ipq).(E)
}

// Peek returns the smallest item in the queue without removing it
func (pq *PriorityQueue[E]) Peek() E {
	return pq.ipq.items[0]
}

// PeekUpdate restores the heap order after the priority of the
// item returned by Peek has changed.
func (pq *PriorityQueue[E]) PeekUpdate() {
	heap.Fix(&pq.ipq, 0)
}

func (pq *innerPriorityQueue[E]) Len() int {
	return len(pq.items)
}

func (pq *innerPriorityQueue[E]) Less(i, j int) bool {
	return pq.lessFunc(pq.items[i], pq.items[j])
}

func (pq *innerPriorityQueue[E]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *innerPriorityQueue[E]) Push(x any) {
	pq.items = append(pq.items, x.(E))
}

func (pq *innerPriorityQueue[E]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	var zero E
	old[n-1] = zero // avoid holding a reference
	pq.items = old[0 : n-1]
	return item
}
