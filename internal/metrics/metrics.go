// Package metrics holds the execution counters and the error taxonomy used
// to label failures.
//
// A Registry is constructed explicitly and handed to the executor and the
// HTTP server; nothing is registered with the process-wide default
// registerer. All Registry methods are safe to call on a nil receiver.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Category classifies fatal execution errors.
type Category string

const (
	CategoryUser     Category = "USER_EXECUTION_ERROR"
	CategoryInternal Category = "INTERNAL_SERVER_ERROR"
	CategoryServer   Category = "SERVER_EXECUTION_ERROR"
	CategoryOther    Category = "OTHER_ERROR"
)

// Categorized is implemented by errors that know their category.
type Categorized interface {
	Category() Category
}

// Categorize returns the category of err: the category of the outermost
// Categorized error in its chain, CategoryServer for cancellations and
// deadlines, CategoryOther otherwise. Categorize(nil) is "".
func Categorize(err error) Category {
	if err == nil {
		return ""
	}
	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryServer
	}
	return CategoryOther
}

const namespace = "legend"

// Registry owns the execution metrics.
type Registry struct {
	reg *prometheus.Registry

	nodes        *prometheus.CounterVec
	errors       *prometheus.CounterVec
	batches      prometheus.Counter
	rows         prometheus.Counter
	compilations *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewRegistry returns a registry with every metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "nodes_total",
			Help:      "Execution nodes dispatched, by node type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "errors_total",
			Help:      "Fatal execution errors, by category.",
		}, []string{"category"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graphfetch",
			Name:      "batches_total",
			Help:      "Graph fetch batches produced.",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graphfetch",
			Name:      "rows_total",
			Help:      "Root objects materialized by graph fetch batches.",
		}),
		compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nativecode",
			Name:      "compilations_total",
			Help:      "Generated method compilations, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "plan_duration_seconds",
			Help:      "Duration of plan executions up to the first result.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(r.nodes, r.errors, r.batches, r.rows, r.compilations, r.duration)
	return r
}

// Gatherer exposes the registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// Node counts one dispatched node.
func (r *Registry) Node(nodeType string) {
	if r == nil {
		return
	}
	r.nodes.WithLabelValues(nodeType).Inc()
}

// Error counts a fatal error and returns its category.
func (r *Registry) Error(err error) Category {
	c := Categorize(err)
	if r == nil || c == "" {
		return c
	}
	r.errors.WithLabelValues(string(c)).Inc()
	return c
}

// Batch counts one graph fetch batch of rows root objects.
func (r *Registry) Batch(rows int) {
	if r == nil {
		return
	}
	r.batches.Inc()
	r.rows.Add(float64(rows))
}

// Compilation counts one method compilation outcome.
func (r *Registry) Compilation(outcome string) {
	if r == nil {
		return
	}
	r.compilations.WithLabelValues(outcome).Inc()
}

// ObservePlan records the duration of a plan execution started at start.
func (r *Registry) ObservePlan(start time.Time, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
