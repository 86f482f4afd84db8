package extmerge_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanrat/extmerge"
)

type recordingObserver struct {
	mu        sync.Mutex
	started   []extmerge.PassEvent
	finished  []extmerge.PassStats
	flushes   []extmerge.FlushEvent
	snapshots []extmerge.Snapshot
}

func (o *recordingObserver) PassStarted(e extmerge.PassEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, e)
}

func (o *recordingObserver) PassFinished(s extmerge.PassStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, s)
}

func (o *recordingObserver) Flushed(e extmerge.FlushEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushes = append(o.flushes, e)
}

func (o *recordingObserver) Snapshot(s extmerge.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots = append(o.snapshots, s)
}

func TestObserverEvents(t *testing.T) {
	rec := &recordingObserver{}
	config := memoryConfig(2, 3)
	config.SnapshotEvery = 1
	config.Observer = rec
	s := newSorter[int](t, config)

	// 4 runs of 6, two groups in pass 1, one in pass 2
	_, err := s.Sort(context.Background(), extmerge.FromKeys(randomKeys(21, 20, 8)...))
	require.NoError(t, err)

	require.Len(t, rec.started, 3)
	assert.Equal(t, extmerge.PassEvent{Pass: 1, Runs: 4, Groups: 2}, rec.started[1])
	assert.Equal(t, extmerge.PassEvent{Pass: 2, Runs: 2, Groups: 1}, rec.started[2])
	assert.Equal(t, s.Stats(), rec.finished)

	perPass := map[int]int{}
	for _, f := range rec.flushes {
		perPass[f.Pass] += f.Records
		if f.Pass > 0 {
			assert.LessOrEqual(t, f.Records, 2, "a flush writes at most one output buffer")
		}
	}
	assert.Equal(t, map[int]int{0: 20, 1: 20, 2: 20}, perPass)

	require.NotEmpty(t, rec.snapshots)
	for _, snap := range rec.snapshots {
		require.Len(t, snap.Inputs, 2)
		for _, in := range snap.Inputs {
			assert.LessOrEqual(t, len(in), 2)
		}
		assert.NotEmpty(t, snap.Output)
		assert.LessOrEqual(t, len(snap.Output), 2)
	}
}

func TestSnapshotInterval(t *testing.T) {
	rec := &recordingObserver{}
	config := memoryConfig(1, 3)
	config.SnapshotEvery = 4
	config.Observer = rec
	s := newSorter[int](t, config)

	// two runs of 3 merged with one record per flush: 6 flushes, 1 snapshot
	_, err := s.Sort(context.Background(), extmerge.FromKeys(6, 5, 4, 3, 2, 1))
	require.NoError(t, err)
	require.Len(t, rec.snapshots, 1)
	assert.Equal(t, 4, rec.snapshots[0].Flush)
	assert.Equal(t, []any{4}, rec.snapshots[0].Output)
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec := &recordingObserver{}

	config := memoryConfig(2, 3)
	config.SnapshotEvery = 2
	config.Observer = extmerge.Observers(rec, extmerge.NewLogObserver(logger))
	s := newSorter[string](t, config)
	_, err := s.Sort(context.Background(), extmerge.FromKeys("q", "w", "e", "r", "t", "y", "u", "i"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"pass started"`)
	assert.Contains(t, out, `"msg":"pass finished"`)
	assert.Contains(t, out, `"msg":"flush"`)
	assert.Contains(t, out, `"msg":"buffers"`)
	assert.Len(t, rec.finished, 2, "every observer receives the events")
}
