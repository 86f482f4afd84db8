package extmerge

import (
	"context"
	"iter"
	"slices"
	"time"
)

// GenerateRuns is pass 0: it reads input in blocks of NumBuffers*BufferSize
// records, sorts each block and writes it as one generation 0 run.
//
// Within a block the buffers fill in order, each full before the next one
// receives a record, so only the last block of the input is short.
// The sort is stable: records with equal keys keep their input order.
// On failure every run already written is removed and a *PassError for
// pass 0 is returned.
func (s *Sorter[K]) GenerateRuns(ctx context.Context, input iter.Seq[Record[K]]) (Registry, error) {
	start := time.Now()
	s.observer.PassStarted(PassEvent{Pass: 0})

	pool := NewPool[K](s.config.NumBuffers, s.config.BufferSize)
	block := make([]Record[K], 0, s.config.NumBuffers*s.config.BufferSize)
	stats := PassStats{Pass: 0}

	next, stop := iter.Pull(input)
	defer stop()

	var reg Registry
	fail := func(err error) (Registry, error) {
		s.release(reg)
		return nil, &PassError{
			Pass:   0,
			Groups: []*GroupError{{Pass: 0, Group: len(reg), Err: err}},
		}
	}

	for exhausted := false; !exhausted; {
		if err := ctx.Err(); err != nil {
			s.release(reg)
			return nil, err
		}
	fill:
		for _, buf := range pool.Buffers() {
			for !buf.Full() {
				rec, ok := next()
				if !ok {
					exhausted = true
					break fill
				}
				buf.Push(rec)
			}
		}
		stats.MaxBuffered = max(stats.MaxBuffered, pool.Occupancy())

		block = block[:0]
		for _, buf := range pool.Buffers() {
			block = buf.drainTo(block)
		}
		if len(block) == 0 {
			break
		}
		slices.SortStableFunc(block, compareRecords[K])

		run, err := s.writeRun(ctx, block)
		if err != nil {
			return fail(err)
		}
		reg = append(reg, run)
		stats.Records += run.Len
		stats.Flushes++
		s.observer.Flushed(FlushEvent{Pass: 0, Group: len(reg) - 1, Generation: 0, Records: run.Len, Final: true})
		clear(block)
	}

	stats.RunsOut = len(reg)
	stats.Duration = time.Since(start)
	s.finishPass(stats)
	s.logger.Debug("generated runs", "runs", len(reg), "records", stats.Records)
	return reg, nil
}

// writeRun stores one sorted block as a generation 0 run.
func (s *Sorter[K]) writeRun(ctx context.Context, block []Record[K]) (run Run, err error) {
	sink, err := s.createSink(ctx, 0)
	if err != nil {
		return Run{}, err
	}
	defer func() {
		if err != nil {
			_ = sink.Abort()
		}
	}()
	if err := sink.WriteAll(block); err != nil {
		return Run{}, err
	}
	return sink.Close()
}
