package extmerge

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MergePass merges the runs of reg in consecutive groups of NumBuffers-1
// and returns the registry of output runs, one per group in group order.
//
// A group of one run passes through unchanged. Groups run concurrently on
// at most Workers goroutines and the new registry is returned only once
// every group has finished. Input runs are never modified or removed.
//
// When some groups fail the error is a *PassError holding the runs of the
// groups that succeeded; RetryPass re-attempts only the failed ones.
// When ctx is cancelled the runs written by this pass are removed and the
// context error is returned.
func (s *Sorter[K]) MergePass(ctx context.Context, pass int, reg Registry) (Registry, error) {
	groups := reg.Groups(s.config.NumBuffers - 1)
	s.observer.PassStarted(PassEvent{Pass: pass, Runs: len(reg), Groups: len(groups)})

	todo := make([]int, len(groups))
	for i := range todo {
		todo[i] = i
	}
	stats := PassStats{Pass: pass, RunsIn: len(reg), Groups: len(groups)}
	return s.runGroups(ctx, pass, groups, make(Registry, len(groups)), todo, stats, 0)
}

// RetryPass merges again the failed groups of a pass.
// It returns the complete registry of the pass when they all succeed, or a
// new *PassError for the groups that failed again.
func (s *Sorter[K]) RetryPass(ctx context.Context, failed *PassError) (Registry, error) {
	if !failed.Retryable() {
		return nil, failed
	}
	todo := make([]int, len(failed.Groups))
	for i, g := range failed.Groups {
		todo[i] = g.Group
	}
	retry := failed.retries + 1
	s.observer.PassStarted(PassEvent{Pass: failed.Pass, Runs: failed.stats.RunsIn, Groups: len(todo), Retry: retry})

	stats := failed.stats
	stats.Retries = retry
	return s.runGroups(ctx, failed.Pass, failed.groups, slices.Clone(failed.Partial), todo, stats, retry)
}

// runGroups merges groups[i] into out[i] for every i in todo.
func (s *Sorter[K]) runGroups(ctx context.Context, pass int, groups []Registry, out Registry, todo []int, stats PassStats, retries int) (Registry, error) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	var (
		mu     sync.Mutex
		failed []*GroupError
	)
	for _, i := range todo {
		g.Go(func() error {
			run, gs, err := s.mergeGroup(gctx, pass, i, groups[i])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("group merge failed", "pass", pass, "group", i, "runs", len(groups[i]), "error", err)
				failed = append(failed, &GroupError{Pass: pass, Group: i, Runs: groups[i], Err: err})
				return nil
			}
			out[i] = run
			stats.Records += gs.records
			stats.Flushes += gs.flushes
			stats.MaxBuffered = max(stats.MaxBuffered, gs.maxBuffered)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, group := range groups {
			if len(group) > 1 {
				s.release(out[i : i+1])
			}
		}
		return nil, err
	}
	stats.Duration += time.Since(start)

	if len(failed) > 0 {
		slices.SortFunc(failed, func(a, b *GroupError) int {
			return cmp.Compare(a.Group, b.Group)
		})
		return nil, &PassError{
			Pass:    pass,
			Groups:  failed,
			Partial: out,
			groups:  groups,
			stats:   stats,
			retries: retries,
		}
	}
	stats.RunsOut = len(out)
	s.finishPass(stats)
	return out, nil
}

type groupStats struct {
	records     int
	flushes     int
	maxBuffered int
}

// mergeGroup merges runs into one new run using a private buffer pool.
//
// Each run is bound to the input buffer of the same index. The head with the
// smallest key moves to the output buffer; equal keys go to the lowest
// index, which keeps the merge stable. An input buffer that empties is
// refilled from its run, or retired once the run is exhausted. The output
// buffer is written out whenever it fills and once more at the end.
func (s *Sorter[K]) mergeGroup(ctx context.Context, pass, group int, runs Registry) (out Run, st groupStats, err error) {
	if len(runs) == 1 {
		return runs[0], st, nil
	}
	if err := ctx.Err(); err != nil {
		return Run{}, st, err
	}

	pool := NewPool[K](s.config.NumBuffers, s.config.BufferSize)
	inputs := pool.Inputs()[:len(runs)]
	output := pool.Output()

	sources := make([]*runSource[K], 0, len(runs))
	defer func() {
		for _, src := range sources {
			if cerr := src.Close(); cerr != nil {
				s.logger.Warn("close run reader", "run", src.run.ID, "error", cerr)
			}
		}
	}()
	for i, run := range runs {
		src, err := s.openSource(ctx, run)
		if err != nil {
			return Run{}, st, err
		}
		sources = append(sources, src)
		if err := src.ReadBlock(inputs[i]); err != nil {
			return Run{}, st, err
		}
	}
	st.maxBuffered = pool.Occupancy()

	generation := runs.Generation() + 1
	sink, err := s.createSink(ctx, generation)
	if err != nil {
		return Run{}, st, err
	}
	defer func() {
		if err != nil {
			if aerr := sink.Abort(); aerr != nil {
				s.logger.Warn("abort run", "pass", pass, "group", group, "error", aerr)
			}
		}
	}()

	// flush is the only cancellation point of a merge
	flush := func(final bool) error {
		st.flushes++
		if s.config.SnapshotEvery > 0 && st.flushes%s.config.SnapshotEvery == 0 {
			s.observer.Snapshot(snapshotOf(pass, group, st.flushes, inputs, output))
		}
		n, err := sink.Flush(output)
		if err != nil {
			return err
		}
		st.records += n
		s.observer.Flushed(FlushEvent{Pass: pass, Group: group, Generation: generation, Records: n, Final: final})
		return ctx.Err()
	}

	sel := s.newSelector(inputs)
	for sel.Len() > 0 {
		i := sel.Min()
		output.Push(inputs[i].Pop())
		if output.Full() {
			if err := flush(false); err != nil {
				return Run{}, st, err
			}
		}
		switch {
		case !inputs[i].Empty():
			sel.Fix(i)
		case sources[i].HasMore():
			if err := sources[i].ReadBlock(inputs[i]); err != nil {
				return Run{}, st, err
			}
			st.maxBuffered = max(st.maxBuffered, pool.Occupancy())
			sel.Fix(i)
		default:
			sel.Retire(i)
		}
	}
	if !output.Empty() {
		if err := flush(true); err != nil {
			return Run{}, st, err
		}
	}
	if st.records == 0 {
		// only empty runs were merged; empty runs are not stored
		if err := sink.Abort(); err != nil {
			return Run{}, st, NewDiskError(err, "abort", Run{})
		}
		return Run{Generation: generation}, st, nil
	}
	out, err = sink.Close()
	return out, st, err
}

func snapshotOf[K cmp.Ordered](pass, group, flush int, inputs []*Buffer[K], output *Buffer[K]) Snapshot {
	snap := Snapshot{
		Pass:   pass,
		Group:  group,
		Flush:  flush,
		Inputs: make([][]any, len(inputs)),
		Output: anyKeys(output),
	}
	for i, b := range inputs {
		snap.Inputs[i] = anyKeys(b)
	}
	return snap
}

func anyKeys[K cmp.Ordered](b *Buffer[K]) []any {
	keys := b.Keys()
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
