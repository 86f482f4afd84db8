package extmerge

import (
	"cmp"
	"iter"
	"slices"
)

// Record is the unit being sorted: an ordering key and an opaque payload.
// Records with equal keys keep their input order through every pass.
type Record[K cmp.Ordered] struct {
	Key   K
	Value []byte
}

func compareRecords[K cmp.Ordered](a, b Record[K]) int {
	return cmp.Compare(a.Key, b.Key)
}

// FromSlice returns an input sequence over recs.
func FromSlice[K cmp.Ordered](recs []Record[K]) iter.Seq[Record[K]] {
	return slices.Values(recs)
}

// FromKeys returns an input sequence of records that carry only a key.
func FromKeys[K cmp.Ordered](keys ...K) iter.Seq[Record[K]] {
	return func(yield func(Record[K]) bool) {
		for _, k := range keys {
			if !yield(Record[K]{Key: k}) {
				return
			}
		}
	}
}

// FromChan returns an input sequence that reads ch until it is closed.
func FromChan[K cmp.Ordered](ch <-chan Record[K]) iter.Seq[Record[K]] {
	return func(yield func(Record[K]) bool) {
		for r := range ch {
			if !yield(r) {
				return
			}
		}
	}
}

// Keys returns the keys of recs in order.
func Keys[K cmp.Ordered](recs []Record[K]) []K {
	keys := make([]K, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys
}
