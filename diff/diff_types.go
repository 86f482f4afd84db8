package diff

import "fmt"

// Delta represents the type of difference found when comparing two sorted streams.
// It indicates whether an item is unique to the first stream (OLD) or second stream (NEW).
type Delta int

const (
	// NEW indicates an item that exists only in the second stream (B).
	NEW Delta = iota // +

	// OLD indicates an item that exists only in the first stream (A).
	OLD // -
)

// ResultFunc is called once for each item that appears in only one of the
// two streams. If it returns an error the diff stops and returns it.
type ResultFunc[T any] func(Delta, T) error

// CompareFunc returns a negative number when a sorts before b, zero when
// they are equal and a positive number otherwise.
type CompareFunc[T any] func(a, b T) int

func (d Delta) String() string {
	switch d {
	case NEW:
		return ">"
	case OLD:
		return "<"
	default:
		return "?"
	}
}

// Result counts the items seen while comparing stream A with stream B.
type Result struct {
	ExtraA uint64 // only in A, reported as OLD
	ExtraB uint64 // only in B, reported as NEW
	TotalA uint64
	TotalB uint64
	Common uint64 // in both streams, counted once per matching pair
}

// Same reports whether both streams held exactly the same items.
func (r *Result) Same() bool {
	return r.ExtraA == 0 && r.ExtraB == 0
}

func (r *Result) String() string {
	return fmt.Sprintf("A: %d/%d\tB: %d/%d\tC: %d", r.ExtraA, r.TotalA, r.ExtraB, r.TotalB, r.Common)
}
