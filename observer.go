package extmerge

import (
	"log/slog"
	"time"
)

// Observer receives progress events from a Sorter.
// Group merges of one pass run concurrently, so implementations must be
// safe for concurrent use.
type Observer interface {
	PassStarted(PassEvent)
	PassFinished(PassStats)
	Flushed(FlushEvent)
	Snapshot(Snapshot)
}

// PassEvent announces a pass. Pass 0 generates runs from the input.
type PassEvent struct {
	Pass   int
	Runs   int // runs consumed by the pass, 0 for pass 0
	Groups int // group merges in the pass, 0 for pass 0
	Retry  int // 0 for the first attempt
}

// PassStats summarises a finished pass.
type PassStats struct {
	Pass        int
	RunsIn      int
	RunsOut     int
	Groups      int
	Records     int // records written by the pass
	Flushes     int // output buffer flushes (one per run for pass 0)
	MaxBuffered int // highest number of records held by one pool
	Retries     int
	Duration    time.Duration
}

// FlushEvent is sent every time an output buffer is written to its run.
type FlushEvent struct {
	Pass       int
	Group      int
	Generation int
	Records    int
	Final      bool // the partial flush that completes the run
}

// Snapshot is a copy of the keys held by one pool, taken just before an
// output flush.
type Snapshot struct {
	Pass   int
	Group  int
	Flush  int     // flush count within the group
	Inputs [][]any // keys of each input buffer, head first
	Output []any   // keys of the output buffer
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) PassStarted(PassEvent)  {}
func (NopObserver) PassFinished(PassStats) {}
func (NopObserver) Flushed(FlushEvent)     {}
func (NopObserver) Snapshot(Snapshot)      {}

type multiObserver []Observer

// Observers returns an Observer that forwards every event to each of obs in order.
func Observers(obs ...Observer) Observer {
	return multiObserver(obs)
}

func (m multiObserver) PassStarted(e PassEvent) {
	for _, o := range m {
		o.PassStarted(e)
	}
}

func (m multiObserver) PassFinished(s PassStats) {
	for _, o := range m {
		o.PassFinished(s)
	}
}

func (m multiObserver) Flushed(e FlushEvent) {
	for _, o := range m {
		o.Flushed(e)
	}
}

func (m multiObserver) Snapshot(s Snapshot) {
	for _, o := range m {
		o.Snapshot(s)
	}
}

// LogObserver writes events to a structured logger.
// Passes are logged at Info, flushes and snapshots at Debug.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver creates a LogObserver writing to logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) PassStarted(e PassEvent) {
	o.Logger.Info("pass started", "pass", e.Pass, "runs", e.Runs, "groups", e.Groups, "retry", e.Retry)
}

func (o *LogObserver) PassFinished(s PassStats) {
	o.Logger.Info("pass finished",
		"pass", s.Pass,
		"runs_in", s.RunsIn,
		"runs_out", s.RunsOut,
		"records", s.Records,
		"flushes", s.Flushes,
		"max_buffered", s.MaxBuffered,
		"retries", s.Retries,
		"duration", s.Duration,
	)
}

func (o *LogObserver) Flushed(e FlushEvent) {
	o.Logger.Debug("flush", "pass", e.Pass, "group", e.Group, "generation", e.Generation, "records", e.Records, "final", e.Final)
}

func (o *LogObserver) Snapshot(s Snapshot) {
	o.Logger.Debug("buffers", "pass", s.Pass, "group", s.Group, "flush", s.Flush, "inputs", s.Inputs, "output", s.Output)
}
