package verify_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanrat/extmerge/verify"
)

func TestSorted(t *testing.T) {
	require.NoError(t, verify.Sorted(slices.Values([]int{})))
	require.NoError(t, verify.Sorted(slices.Values([]int{1, 1, 2, 5})))

	err := verify.Sorted(slices.Values([]string{"a", "c", "b"}))
	var orderErr *verify.OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, 2, orderErr.Index)
	assert.Equal(t, "c", orderErr.Prev)
	assert.Equal(t, "b", orderErr.Next)
}

func TestCounts(t *testing.T) {
	c := verify.CountKeys(slices.Values([]int{3, 1, 3, 3, 2}))
	assert.Equal(t, 5, c.Total())
	assert.Equal(t, 3, c.Distinct())
	assert.Equal(t, 3, c.Count(3))
	assert.Equal(t, 0, c.Count(4))
}

func TestConserved(t *testing.T) {
	in := []int{5, 3, 1, 4, 2, 3}
	require.NoError(t, verify.Conserved(slices.Values(in), slices.Values([]int{1, 2, 3, 3, 4, 5})))

	err := verify.Conserved(slices.Values(in), slices.Values([]int{1, 2, 3, 4, 5}))
	var countErr *verify.CountError
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, 3, countErr.Key)
	assert.Equal(t, 2, countErr.Want)
	assert.Equal(t, 1, countErr.Got)

	// a key only present in the output
	err = verify.Conserved(slices.Values([]int{1}), slices.Values([]int{1, 9}))
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, 9, countErr.Key)
	assert.Equal(t, 0, countErr.Want)
	assert.Equal(t, 1, countErr.Got)
}

func TestFingerprint(t *testing.T) {
	var a, b, c verify.Fingerprint
	for _, s := range []string{"x", "y", "y", "z"} {
		a.Add([]byte(s))
	}
	for _, s := range []string{"y", "z", "x", "y"} {
		b.Add([]byte(s))
	}
	for _, s := range []string{"x", "y", "z", "z"} {
		c.Add([]byte(s))
	}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, 4, a.Len())
	assert.Equal(t, a.String(), b.String())
}
