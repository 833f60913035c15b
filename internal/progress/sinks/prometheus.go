package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/fanbox-archiver/internal/progress"
)

// Post results used as metric labels.
const (
	ResultArchived = "archived"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
)

// PrometheusSink exports run, page and post counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pages        prometheus.Counter
	posts        *prometheus.CounterVec
	mediaBytes   prometheus.Counter
	postDuration prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, falling back to the
// default registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_runs_started_total",
			Help: "Archive runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_runs_completed_total",
			Help: "Archive runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_runs_active",
			Help: "Archive runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_feed_pages_total",
			Help: "Feed pages fetched and decoded.",
		}),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_posts_total",
			Help: "Posts handled partitioned by result.",
		}, []string{"result"}),
		mediaBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_media_bytes_total",
			Help: "Media bytes downloaded.",
		}),
		postDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_post_duration_seconds",
			Help:    "Time spent archiving a single post.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runRuntime,
		s.pages,
		s.posts,
		s.mediaBytes,
		s.postDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StagePageDone:
		s.pages.Inc()
	case progress.StagePostDone:
		s.posts.WithLabelValues(ResultArchived).Inc()
		if evt.Bytes > 0 {
			s.mediaBytes.Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.postDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StagePostSkip:
		s.posts.WithLabelValues(ResultSkipped).Inc()
	case progress.StagePostError:
		s.posts.WithLabelValues(ResultFailed).Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu     sync.Mutex
	active map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
