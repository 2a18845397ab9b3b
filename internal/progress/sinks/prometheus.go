package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/board-archiver/internal/progress"
)

// PrometheusSink exports archiver progress as Prometheus collectors.
type PrometheusSink struct {
	cycles          *prometheus.CounterVec
	threadsArchived *prometheus.CounterVec
	postsArchived   *prometheus.CounterVec
	activeThreads   *prometheus.GaugeVec
	cycleDuration   *prometheus.HistogramVec

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_cycles_total",
			Help: "Completed orchestration cycles per board.",
		}, []string{"board"}),
		threadsArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_threads_archived_total",
			Help: "Threads persisted after closing.",
		}, []string{"board"}),
		postsArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_posts_archived_total",
			Help: "Posts persisted with their closed threads.",
		}, []string{"board"}),
		activeThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archiver_active_threads",
			Help: "Threads in the working set at the end of the last cycle.",
		}, []string{"board"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_cycle_duration_seconds",
			Help:    "Wall time per orchestration cycle.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"board"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_fetch_total",
			Help: "Upstream fetches partitioned by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_fetch_duration_seconds",
			Help:    "Upstream fetch latency partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.cycles,
		s.threadsArchived,
		s.postsArchived,
		s.activeThreads,
		s.cycleDuration,
		s.fetches,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCycleDone:
			s.cycles.WithLabelValues(evt.Board).Inc()
			s.activeThreads.WithLabelValues(evt.Board).Set(float64(evt.Threads))
			s.cycleDuration.WithLabelValues(evt.Board).Observe(evt.Dur.Seconds())
		case progress.StageThreadArchived:
			s.threadsArchived.WithLabelValues(evt.Board).Inc()
			s.postsArchived.WithLabelValues(evt.Board).Add(float64(evt.Posts))
		case progress.StageFetchDone:
			s.fetches.WithLabelValues(evt.Outcome).Inc()
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
