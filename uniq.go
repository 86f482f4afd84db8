package extmerge

import (
	"cmp"
	"iter"
)

// Uniq filters out records whose key equals the key of the record before
// them, keeping the first record of each run of equal keys. It assumes seq
// is sorted, as the output of Records is, so duplicates are consecutive.
// Errors pass through unchanged.
func Uniq[K cmp.Ordered](seq iter.Seq2[Record[K], error]) iter.Seq2[Record[K], error] {
	return func(yield func(Record[K], error) bool) {
		var prior K
		priorSet := false
		for r, err := range seq {
			if err != nil {
				yield(r, err)
				return
			}
			if priorSet && r.Key == prior {
				continue
			}
			priorSet = true
			prior = r.Key
			if !yield(r, nil) {
				return
			}
		}
	}
}
