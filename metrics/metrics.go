// Package metrics exports sort progress to Prometheus.
//
// Observer implements extmerge.Observer on client_golang collectors held in
// its own registry, which can be scraped through Gatherer or sent to a
// Pushgateway with Push once a batch sort finishes.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/lanrat/extmerge"
)

// Observer records sort progress in Prometheus collectors.
type Observer struct {
	reg *prometheus.Registry

	passes       *prometheus.CounterVec // "extmerge_passes_total"
	passDuration *prometheus.SummaryVec // "extmerge_pass_duration_seconds"
	records      *prometheus.CounterVec // "extmerge_records_written_total"
	runs         *prometheus.GaugeVec   // "extmerge_pass_runs"
	flushes      *prometheus.CounterVec // "extmerge_flushes_total"
	retries      prometheus.Counter     // "extmerge_group_retries_total"
	maxBuffered  prometheus.Gauge       // "extmerge_max_buffered_records"
	snapshots    prometheus.Counter     // "extmerge_snapshots_total"

	mu  sync.Mutex
	max int
}

var _ extmerge.Observer = (*Observer)(nil)

// NewObserver creates an Observer with its own registry.
func NewObserver() (*Observer, error) {
	o := &Observer{
		reg: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extmerge_passes_total",
				Help: "Passes started, partitioned by kind (generate, merge, retry).",
			},
			[]string{"kind"},
		),
		passDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "extmerge_pass_duration_seconds",
				Help:       "Duration of finished passes in seconds.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"kind"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extmerge_records_written_total",
				Help: "Records written to runs, partitioned by output generation.",
			},
			[]string{"generation"},
		),
		runs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "extmerge_pass_runs",
				Help: "Runs consumed (in) and produced (out) by the last finished pass.",
			},
			[]string{"direction"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extmerge_flushes_total",
				Help: "Output buffer flushes, partitioned by whether they completed a run.",
			},
			[]string{"final"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extmerge_group_retries_total",
			Help: "Passes that finished only after re-attempting failed groups.",
		}),
		maxBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "extmerge_max_buffered_records",
			Help: "Highest number of records held by one buffer pool so far.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extmerge_snapshots_total",
			Help: "Buffer snapshots taken.",
		}),
	}
	for name, c := range map[string]prometheus.Collector{
		"passes":        o.passes,
		"pass duration": o.passDuration,
		"records":       o.records,
		"runs":          o.runs,
		"flushes":       o.flushes,
		"retries":       o.retries,
		"max buffered":  o.maxBuffered,
		"snapshots":     o.snapshots,
	} {
		if err := o.reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}
	return o, nil
}

// Gatherer returns the registry holding the collectors.
func (o *Observer) Gatherer() prometheus.Gatherer {
	return o.reg
}

func passKind(pass, retry int) string {
	switch {
	case retry > 0:
		return "retry"
	case pass == 0:
		return "generate"
	default:
		return "merge"
	}
}

func (o *Observer) PassStarted(e extmerge.PassEvent) {
	o.passes.WithLabelValues(passKind(e.Pass, e.Retry)).Inc()
}

func (o *Observer) PassFinished(s extmerge.PassStats) {
	kind := "merge"
	if s.Pass == 0 {
		kind = "generate"
	}
	o.passDuration.WithLabelValues(kind).Observe(s.Duration.Seconds())
	o.runs.WithLabelValues("in").Set(float64(s.RunsIn))
	o.runs.WithLabelValues("out").Set(float64(s.RunsOut))
	if s.Retries > 0 {
		o.retries.Inc()
	}
	o.observeBuffered(s.MaxBuffered)
}

func (o *Observer) Flushed(e extmerge.FlushEvent) {
	o.flushes.WithLabelValues(strconv.FormatBool(e.Final)).Inc()
	o.records.WithLabelValues(strconv.Itoa(e.Generation)).Add(float64(e.Records))
}

func (o *Observer) Snapshot(s extmerge.Snapshot) {
	o.snapshots.Inc()
	n := len(s.Output)
	for _, in := range s.Inputs {
		n += len(in)
	}
	o.observeBuffered(n)
}

// observeBuffered raises the max gauge to n.
func (o *Observer) observeBuffered(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > o.max {
		o.max = n
		o.maxBuffered.Set(float64(n))
	}
}

// Push sends the collected metrics to the Pushgateway at url under job.
func (o *Observer) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return fmt.Errorf("metrics: pushgateway URL is required")
	}
	if job == "" {
		job = "extmerge"
	}
	if err := push.New(url, job).Gatherer(o.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
