// Package metrics exposes Prometheus collectors for extraction runs and the
// HTTP surface. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "movreport"

// Run outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeDegraded = "degraded"
)

// Recorder holds the collectors registered for one process.
type Recorder struct {
	reg *prometheus.Registry

	runs      *prometheus.CounterVec
	duration  prometheus.Histogram
	subtasks  *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	questions prometheus.Histogram
	reviews   prometheus.Counter
	http      *prometheus.CounterVec
}

// New creates a Recorder on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r := &Recorder{
		reg: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction runs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Wall time of one extraction run.",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480},
		}),
		subtasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtask_failures_total",
			Help:      "Recovered sub-extraction failures by task.",
		}, []string{"task"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Inference tokens consumed by kind.",
		}, []string{"kind"}),
		questions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "questions_extracted",
			Help:      "Questions present in assembled reports.",
			Buckets:   []float64{0, 15, 30, 45, 60, 70, 76, 85},
		}),
		reviews: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_required_total",
			Help:      "Assembled reports flagged for human review.",
		}),
		http: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(r.runs, r.duration, r.subtasks, r.tokens, r.questions, r.reviews, r.http)
	return r
}

// Registry returns the registry backing r.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format. A nil
// Recorder serves 404.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Run records the outcome and wall time of one extraction.
func (r *Recorder) Run(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.duration.Observe(d.Seconds())
}

// SubtaskFailed records one recovered sub-extraction failure.
func (r *Recorder) SubtaskFailed(task string) {
	if r == nil {
		return
	}
	r.subtasks.WithLabelValues(task).Inc()
}

// Tokens adds prompt and completion token counts.
func (r *Recorder) Tokens(prompt, completion int64) {
	if r == nil {
		return
	}
	r.tokens.WithLabelValues("prompt").Add(float64(prompt))
	r.tokens.WithLabelValues("completion").Add(float64(completion))
}

// Assembled records the question count and review flag of a finished report.
func (r *Recorder) Assembled(questions int, requiresReview bool) {
	if r == nil {
		return
	}
	r.questions.Observe(float64(questions))
	if requiresReview {
		r.reviews.Inc()
	}
}

// Request records one served HTTP request.
func (r *Recorder) Request(route string, code int) {
	if r == nil {
		return
	}
	r.http.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
