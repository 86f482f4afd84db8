package extmerge

import (
	"github.com/lanrat/extmerge/store"
)

// Run is a handle to an immutable sorted sequence of records held by a store.
// Generation 0 runs come from the input; a merged run has generation one
// above the highest generation it merged.
type Run struct {
	ID         store.RunID
	Generation int
	Len        int
}

// Empty reports whether the run holds no records.
func (r Run) Empty() bool {
	return r.Len == 0
}

// Registry is the ordered list of runs awaiting the next pass.
type Registry []Run

// Groups splits the registry into consecutive groups of width runs.
// The last group holds the remainder and may be narrower.
func (reg Registry) Groups(width int) []Registry {
	if width < 1 {
		width = 1
	}
	groups := make([]Registry, 0, (len(reg)+width-1)/width)
	for start := 0; start < len(reg); start += width {
		end := min(start+width, len(reg))
		groups = append(groups, reg[start:end:end])
	}
	return groups
}

// Records returns the total number of records in the registry.
func (reg Registry) Records() int {
	n := 0
	for _, r := range reg {
		n += r.Len
	}
	return n
}

// Generation returns the highest generation in the registry, -1 when empty.
func (reg Registry) Generation() int {
	g := -1
	for _, r := range reg {
		g = max(g, r.Generation)
	}
	return g
}
