package extmerge

import (
	"cmp"
	"fmt"
)

// Buffer is a bounded FIFO of records. Its length never exceeds its capacity:
// pushing to a full buffer is a programming error and panics.
type Buffer[K cmp.Ordered] struct {
	recs []Record[K]
	head int
	n    int
}

// NewBuffer returns an empty buffer holding at most capacity records.
func NewBuffer[K cmp.Ordered](capacity int) *Buffer[K] {
	return &Buffer[K]{recs: make([]Record[K], capacity)}
}

func (b *Buffer[K]) Cap() int    { return len(b.recs) }
func (b *Buffer[K]) Len() int    { return b.n }
func (b *Buffer[K]) Empty() bool { return b.n == 0 }
func (b *Buffer[K]) Full() bool  { return b.n == len(b.recs) }

// Push appends r at the tail.
func (b *Buffer[K]) Push(r Record[K]) {
	if b.Full() {
		panic(fmt.Sprintf("extmerge: push to a full buffer (capacity %d)", len(b.recs)))
	}
	b.recs[(b.head+b.n)%len(b.recs)] = r
	b.n++
}

// Peek returns the head record without removing it.
func (b *Buffer[K]) Peek() Record[K] {
	if b.n == 0 {
		panic("extmerge: peek at an empty buffer")
	}
	return b.recs[b.head]
}

// Pop removes and returns the head record.
func (b *Buffer[K]) Pop() Record[K] {
	r := b.Peek()
	b.recs[b.head] = Record[K]{}
	b.n--
	if b.n == 0 {
		b.head = 0
	} else {
		b.head = (b.head + 1) % len(b.recs)
	}
	return r
}

// drainTo pops every record onto dst and returns it.
func (b *Buffer[K]) drainTo(dst []Record[K]) []Record[K] {
	for !b.Empty() {
		dst = append(dst, b.Pop())
	}
	return dst
}

// Keys returns the buffered keys, head first.
func (b *Buffer[K]) Keys() []K {
	keys := make([]K, b.n)
	for i := range keys {
		keys[i] = b.recs[(b.head+i)%len(b.recs)].Key
	}
	return keys
}

// Pool is the fixed set of buffers owned by one group merge or by Pass 0.
// The last buffer is the output buffer, all others are inputs.
type Pool[K cmp.Ordered] struct {
	bufs []*Buffer[K]
}

// NewPool allocates numBuffers buffers of bufferSize records each.
func NewPool[K cmp.Ordered](numBuffers, bufferSize int) *Pool[K] {
	p := &Pool[K]{bufs: make([]*Buffer[K], numBuffers)}
	for i := range p.bufs {
		p.bufs[i] = NewBuffer[K](bufferSize)
	}
	return p
}

func (p *Pool[K]) Len() int { return len(p.bufs) }

// Buffers returns every buffer, output last.
func (p *Pool[K]) Buffers() []*Buffer[K] { return p.bufs }

// Inputs returns the input buffers in index order.
func (p *Pool[K]) Inputs() []*Buffer[K] { return p.bufs[:len(p.bufs)-1] }

// Output returns the output buffer.
func (p *Pool[K]) Output() *Buffer[K] { return p.bufs[len(p.bufs)-1] }

// Occupancy returns the number of records held across the pool.
func (p *Pool[K]) Occupancy() int {
	n := 0
	for _, b := range p.bufs {
		n += b.n
	}
	return n
}
