package extmerge_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanrat/extmerge"
	"github.com/lanrat/extmerge/store"
)

var errInjected = errors.New("injected store failure")

// faultyStore wraps a store and fails chosen runs.
type faultyStore struct {
	store.Store
	mem       *store.Memory
	mu        sync.Mutex
	failOpens map[store.RunID]int // remaining Open failures per run
	truncate  map[store.RunID]int // runs whose readers stop after n records
	opens     int
}

func newFaultyStore() *faultyStore {
	mem := store.NewMemory()
	return &faultyStore{
		Store:     mem,
		mem:       mem,
		failOpens: make(map[store.RunID]int),
		truncate:  make(map[store.RunID]int),
	}
}

func (f *faultyStore) Open(ctx context.Context, id store.RunID) (store.Reader, error) {
	f.mu.Lock()
	f.opens++
	if f.failOpens[id] > 0 {
		f.failOpens[id]--
		f.mu.Unlock()
		return nil, errInjected
	}
	limit, short := f.truncate[id]
	f.mu.Unlock()

	r, err := f.Store.Open(ctx, id)
	if err != nil || !short {
		return r, err
	}
	return &shortReader{Reader: r, left: limit}, nil
}

type shortReader struct {
	store.Reader
	left int
}

func (r *shortReader) Next() ([]byte, error) {
	if r.left == 0 {
		return nil, io.EOF
	}
	r.left--
	return r.Reader.Next()
}

// memoryConfig is a small config on the in-memory store.
func memoryConfig(bufferSize, numBuffers int) *extmerge.Config {
	config := extmerge.DefaultConfig()
	config.BufferSize = bufferSize
	config.NumBuffers = numBuffers
	config.Store = extmerge.StoreMemory
	return config
}

// indexed returns records of keys whose values hold their input position,
// so stability can be checked on the output.
func indexed[K int | string](keys ...K) []extmerge.Record[K] {
	recs := make([]extmerge.Record[K], len(keys))
	for i, k := range keys {
		recs[i] = extmerge.Record[K]{Key: k, Value: []byte(fmt.Sprintf("%06d", i))}
	}
	return recs
}

func randomKeys(seed int64, n, distinct int) []int {
	rng := rand.New(rand.NewSource(seed))
	keys := make([]int, n)
	for i := range keys {
		keys[i] = rng.Intn(distinct)
	}
	return keys
}

func newSorter[K int | string](t *testing.T, config *extmerge.Config, opts ...extmerge.Option[K]) *extmerge.Sorter[K] {
	t.Helper()
	s, err := extmerge.New[K](config, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func collect[K int | string](t *testing.T, s *extmerge.Sorter[K], run extmerge.Run) []extmerge.Record[K] {
	t.Helper()
	recs, err := s.Collect(context.Background(), run)
	require.NoError(t, err)
	return recs
}

// requireStable checks that equal keys kept their input order.
func requireStable[K int | string](t *testing.T, recs []extmerge.Record[K]) {
	t.Helper()
	for i := 1; i < len(recs); i++ {
		if recs[i].Key == recs[i-1].Key {
			require.Less(t, string(recs[i-1].Value), string(recs[i].Value), "records with key %v out of input order", recs[i].Key)
		}
	}
}
