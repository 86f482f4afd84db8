package extmerge_test

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanrat/extmerge"
	"github.com/lanrat/extmerge/store"
	"github.com/lanrat/extmerge/verify"
)

func TestSingleBlockNeedsNoMergePass(t *testing.T) {
	s := newSorter[int](t, memoryConfig(2, 3))
	run, err := s.Sort(context.Background(), extmerge.FromKeys(5, 3, 1, 4, 2))
	require.NoError(t, err)

	assert.Equal(t, 0, run.Generation)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, extmerge.Keys(collect(t, s, run)))

	stats := s.Stats()
	require.Len(t, stats, 1, "only pass 0 runs")
	assert.Equal(t, 1, stats[0].RunsOut)
}

func TestMergePassGenerations(t *testing.T) {
	ctx := context.Background()
	s := newSorter[int](t, memoryConfig(1, 4))

	keys := randomKeys(2, 24, 100)
	reg, err := s.GenerateRuns(ctx, extmerge.FromKeys(keys...))
	require.NoError(t, err)
	require.Len(t, reg, 6)
	for _, r := range reg {
		assert.Equal(t, 0, r.Generation)
		assert.Equal(t, 4, r.Len)
	}

	pass1, err := s.MergePass(ctx, 1, reg)
	require.NoError(t, err)
	require.Len(t, pass1, 2)
	for _, r := range pass1 {
		assert.Equal(t, 1, r.Generation)
		assert.Equal(t, 12, r.Len)
	}

	pass2, err := s.MergePass(ctx, 2, pass1)
	require.NoError(t, err)
	require.Len(t, pass2, 1)
	assert.Equal(t, 2, pass2[0].Generation)

	got := extmerge.Keys(collect(t, s, pass2[0]))
	want := slices.Clone(keys)
	slices.Sort(want)
	assert.Equal(t, want, got)
}

// twoRuns writes [1,3,5] from "a" and [2,3,6] from "b" into mem.
func twoRuns(t *testing.T, mem store.Store) extmerge.Registry {
	gen := newSorter[int](t, memoryConfig(1, 3), extmerge.WithStore[int](mem))
	in := []extmerge.Record[int]{
		{Key: 5, Value: []byte("a5")}, {Key: 1, Value: []byte("a1")}, {Key: 3, Value: []byte("a3")},
		{Key: 6, Value: []byte("b6")}, {Key: 3, Value: []byte("b3")}, {Key: 2, Value: []byte("b2")},
	}
	reg, err := gen.GenerateRuns(context.Background(), extmerge.FromSlice(in))
	require.NoError(t, err)
	require.Len(t, reg, 2)
	return reg
}

func TestMergeTieGoesToLowerBuffer(t *testing.T) {
	for _, heap := range []bool{false, true} {
		t.Run(fmt.Sprintf("heap=%t", heap), func(t *testing.T) {
			mem := store.NewMemory()
			reg := twoRuns(t, mem)

			config := memoryConfig(2, 3)
			if heap {
				config.HeapThreshold = 1
			}
			s := newSorter[int](t, config, extmerge.WithStore[int](mem))
			out, err := s.MergePass(context.Background(), 1, reg)
			require.NoError(t, err)
			require.Len(t, out, 1)

			var values []string
			for _, r := range collect(t, s, out[0]) {
				values = append(values, string(r.Value))
			}
			assert.Equal(t, []string{"a1", "b2", "a3", "b3", "a5", "b6"}, values)
		})
	}
}

func TestMergeSkipsEmptyRun(t *testing.T) {
	mem := store.NewMemory()
	reg := twoRuns(t, mem)
	s := newSorter[int](t, memoryConfig(2, 3), extmerge.WithStore[int](mem))

	out, err := s.MergePass(context.Background(), 1, extmerge.Registry{reg[0], {}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Generation)
	assert.Equal(t, []int{1, 3, 5}, extmerge.Keys(collect(t, s, out[0])))

	out, err = s.MergePass(context.Background(), 1, extmerge.Registry{{}, {}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Empty())
}

func TestGroupOfOnePassesThrough(t *testing.T) {
	mem := store.NewMemory()
	reg := twoRuns(t, mem)
	s := newSorter[int](t, memoryConfig(2, 4), extmerge.WithStore[int](mem))

	out, err := s.MergePass(context.Background(), 1, extmerge.Registry{reg[1]})
	require.NoError(t, err)
	assert.Equal(t, extmerge.Registry{reg[1]}, out, "the run is returned as it is")
	assert.Equal(t, 2, mem.Len(), "nothing was written")
}

func TestEmptyInput(t *testing.T) {
	s := newSorter[string](t, memoryConfig(4, 3))
	run, err := s.Sort(context.Background(), extmerge.FromKeys[string]())
	require.NoError(t, err)
	assert.True(t, run.Empty())
	assert.Empty(t, collect(t, s, run))
	require.NoError(t, s.Release(run))

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Zero(t, stats[0].RunsOut)
}

type sortCase struct {
	name       string
	store      string
	compress   bool
	mmap       bool
	bufferSize int
	numBuffers int
	workers    int
	heap       int
}

func (c sortCase) config(t *testing.T) *extmerge.Config {
	config := extmerge.DefaultConfig()
	config.Store = c.store
	config.TempFilesDir = t.TempDir()
	config.Compress = c.compress
	config.Mmap = c.mmap
	config.BufferSize = c.bufferSize
	config.NumBuffers = c.numBuffers
	config.Workers = c.workers
	config.HeapThreshold = c.heap
	return config
}

var sortCases = []sortCase{
	{name: "memory-scan", store: extmerge.StoreMemory, bufferSize: 3, numBuffers: 3, workers: 1, heap: 64},
	{name: "memory-heap", store: extmerge.StoreMemory, bufferSize: 3, numBuffers: 5, workers: 4, heap: 1},
	{name: "memory-bs1", store: extmerge.StoreMemory, bufferSize: 1, numBuffers: 3, workers: 2, heap: 64},
	{name: "file", store: extmerge.StoreFile, bufferSize: 7, numBuffers: 4, workers: 3, heap: 2},
	{name: "file-zstd", store: extmerge.StoreFile, compress: true, bufferSize: 5, numBuffers: 6, workers: 2, heap: 64},
	{name: "file-mmap", store: extmerge.StoreFile, mmap: true, bufferSize: 4, numBuffers: 3, workers: 1, heap: 64},
	{name: "pebble", store: extmerge.StorePebble, bufferSize: 16, numBuffers: 4, workers: 2, heap: 64},
}

func expectedPasses(records, bufferSize, numBuffers int) int {
	runs := (records + bufferSize*numBuffers - 1) / (bufferSize * numBuffers)
	passes := 0
	for runs > 1 {
		runs = (runs + numBuffers - 2) / (numBuffers - 1)
		passes++
	}
	return passes
}

func TestSortProperties(t *testing.T) {
	for _, c := range sortCases {
		t.Run(c.name, func(t *testing.T) {
			keys := randomKeys(int64(len(c.name)), 1000, 50)
			in := indexed(keys...)

			s := newSorter[int](t, c.config(t))
			run, err := s.Sort(context.Background(), extmerge.FromSlice(in))
			require.NoError(t, err)
			out := collect(t, s, run)

			require.Len(t, out, len(in))
			require.NoError(t, verify.Sorted(slices.Values(extmerge.Keys(out))))
			require.NoError(t, verify.Conserved(slices.Values(keys), slices.Values(extmerge.Keys(out))))
			requireStable(t, out)

			stats := s.Stats()
			passes := expectedPasses(len(in), c.bufferSize, c.numBuffers)
			require.Len(t, stats, passes+1)
			assert.Equal(t, passes, run.Generation)
			assert.Equal(t, len(in), stats[0].Records)
			for _, st := range stats {
				assert.LessOrEqual(t, st.MaxBuffered, c.bufferSize*c.numBuffers, "pass %d", st.Pass)
				assert.LessOrEqual(t, st.Records, len(in), "pass %d", st.Pass)
			}
			require.NoError(t, s.Release(run))
		})
	}
}

func TestPassCountIsLogarithmic(t *testing.T) {
	// runs of 7 records, 6 merged per group: ceil(log6(runs)) passes
	for n, want := range map[int]int{1: 0, 6: 0, 7: 0, 36: 1, 42: 1, 43: 2, 217: 2, 253: 3} {
		s := newSorter[int](t, memoryConfig(1, 7))
		run, err := s.Sort(context.Background(), extmerge.FromKeys(randomKeys(int64(n), n, 10)...))
		require.NoError(t, err)
		assert.Len(t, s.Stats(), want+1, "%d records", n)
		assert.Equal(t, want, expectedPasses(n, 1, 7))
		assert.Equal(t, n, run.Len)
	}
}

func TestSortIsDeterministic(t *testing.T) {
	keys := randomKeys(7, 2000, 30)
	var results [][]extmerge.Record[int]
	for _, c := range []sortCase{sortCases[0], sortCases[1], sortCases[3]} {
		out, err := extmerge.Sort(context.Background(), extmerge.FromSlice(indexed(keys...)), c.config(t))
		require.NoError(t, err)
		results = append(results, out)
	}
	// same buffer geometry as the first case, different workers and selector
	c := sortCases[0]
	c.workers, c.heap = 8, 1
	out, err := extmerge.Sort(context.Background(), extmerge.FromSlice(indexed(keys...)), c.config(t))
	require.NoError(t, err)

	assert.Equal(t, results[0], out)
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestSortReleasesIntermediateRuns(t *testing.T) {
	mem := store.NewMemory()
	s := newSorter[int](t, memoryConfig(2, 3), extmerge.WithStore[int](mem))
	run, err := s.Sort(context.Background(), extmerge.FromKeys(randomKeys(3, 100, 100)...))
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Len(), "only the result run is left")
	require.NoError(t, s.Release(run))
	assert.Equal(t, 0, mem.Len())
}

func TestSortKeys(t *testing.T) {
	got, err := extmerge.SortKeys(context.Background(), []string{"pear", "apple", "fig", "apple"}, memoryConfig(1, 3), extmerge.WithCodec(extmerge.StringCodec()))
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "apple", "fig", "pear"}, got)
}

func TestSortFloatKeys(t *testing.T) {
	in := []float64{2.5, -1, 0, 1e9, -1e-9, 2.5}
	got, err := extmerge.SortKeys(context.Background(), in, memoryConfig(2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1e-9, 0, 2.5, 2.5, 1e9}, got)
}

func TestRecordsStopsEarly(t *testing.T) {
	s := newSorter[int](t, memoryConfig(2, 3))
	run, err := s.Sort(context.Background(), extmerge.FromKeys(randomKeys(5, 50, 50)...))
	require.NoError(t, err)

	n := 0
	for _, err := range s.Records(context.Background(), run) {
		require.NoError(t, err)
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestFromChan(t *testing.T) {
	ch := make(chan extmerge.Record[int])
	go func() {
		for _, k := range []int{3, 1, 2} {
			ch <- extmerge.Record[int]{Key: k}
		}
		close(ch)
	}()
	out, err := extmerge.Sort(context.Background(), extmerge.FromChan(ch), memoryConfig(1, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, extmerge.Keys(out))
}
