// Package verify checks the output of a sort: that it is ordered and that
// it holds exactly the records of the input.
package verify

import (
	"cmp"
	"fmt"
	"iter"

	"github.com/google/btree"
	"github.com/zeebo/xxh3"
)

// OrderError reports the first pair of adjacent keys out of order.
type OrderError struct {
	Index int // position of the second key
	Prev  any
	Next  any
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("out of order at %d: %v after %v", e.Index, e.Next, e.Prev)
}

// Sorted returns an *OrderError for the first key smaller than the key before it.
func Sorted[K cmp.Ordered](keys iter.Seq[K]) error {
	var prev K
	i := 0
	for k := range keys {
		if i > 0 && cmp.Less(k, prev) {
			return &OrderError{Index: i, Prev: prev, Next: k}
		}
		prev = k
		i++
	}
	return nil
}

type tally[K cmp.Ordered] struct {
	key   K
	count int
}

// Counts is a multiset of keys kept in a btree.
type Counts[K cmp.Ordered] struct {
	tree  *btree.BTreeG[tally[K]]
	total int
}

// NewCounts returns an empty multiset.
func NewCounts[K cmp.Ordered]() *Counts[K] {
	return &Counts[K]{
		tree: btree.NewG[tally[K]](16, func(a, b tally[K]) bool {
			return cmp.Less(a.key, b.key)
		}),
	}
}

// CountKeys builds the multiset of keys.
func CountKeys[K cmp.Ordered](keys iter.Seq[K]) *Counts[K] {
	c := NewCounts[K]()
	for k := range keys {
		c.Add(k)
	}
	return c
}

// Add counts one more k.
func (c *Counts[K]) Add(k K) {
	t, _ := c.tree.Get(tally[K]{key: k})
	c.tree.ReplaceOrInsert(tally[K]{key: k, count: t.count + 1})
	c.total++
}

// Count returns how many times k was added.
func (c *Counts[K]) Count(k K) int {
	t, _ := c.tree.Get(tally[K]{key: k})
	return t.count
}

// Distinct returns the number of distinct keys.
func (c *Counts[K]) Distinct() int { return c.tree.Len() }

// Total returns the number of keys added.
func (c *Counts[K]) Total() int { return c.total }

// CountError reports a key whose multiplicity differs between two multisets.
type CountError struct {
	Key  any
	Want int
	Got  int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("key %v: want %d records, got %d", e.Key, e.Want, e.Got)
}

// Diff returns a *CountError for the smallest key counted a different
// number of times in want and got, or nil when the multisets are equal.
func Diff[K cmp.Ordered](want, got *Counts[K]) error {
	var err error
	check := func(a, b *Counts[K], flip bool) {
		a.tree.Ascend(func(t tally[K]) bool {
			n := b.Count(t.key)
			if n == t.count {
				return true
			}
			if flip {
				err = &CountError{Key: t.key, Want: n, Got: t.count}
			} else {
				err = &CountError{Key: t.key, Want: t.count, Got: n}
			}
			return false
		})
	}
	check(want, got, false)
	if err == nil {
		check(got, want, true)
	}
	return err
}

// Conserved checks that out holds every key of in the same number of times.
func Conserved[K cmp.Ordered](in, out iter.Seq[K]) error {
	return Diff(CountKeys(in), CountKeys(out))
}

// Fingerprint is an order-independent digest of a multiset of records.
// Two fingerprints are equal when they were fed the same records in any order,
// barring hash collisions.
type Fingerprint struct {
	sum uint64
	xor uint64
	n   int
}

// Add includes one record.
func (f *Fingerprint) Add(rec []byte) {
	h := xxh3.Hash(rec)
	f.sum += h
	f.xor ^= h
	f.n++
}

// Len returns the number of records added.
func (f *Fingerprint) Len() int { return f.n }

// Equal reports whether f and o digest the same multiset.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f == o
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x%016x/%d", f.sum, f.xor, f.n)
}
