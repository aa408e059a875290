// Package metrics exposes Prometheus collectors for query evaluation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts query evaluations by outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_queries_total",
			Help: "Total number of query evaluations",
		},
		[]string{"status"},
	)
	// QueryDuration is the wall time of query evaluations.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xquery_query_duration_seconds",
			Help:    "Query evaluation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	// TerminatedTotal counts queries stopped by the watchdog.
	TerminatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_terminated_total",
			Help: "Total number of queries terminated by the watchdog",
		},
		[]string{"reason"},
	)
	// PragmaDuration is the time spent inside exist:time pragmas.
	PragmaDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xquery_pragma_duration_seconds",
			Help:    "Time measured by timing pragmas in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"label"},
	)
	// ExpressionDuration is recorded by the profiler per expression kind.
	ExpressionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xquery_expression_duration_seconds",
			Help:    "Profiled expression evaluation time in seconds",
			Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
		},
		[]string{"expression"},
	)
	// CompiledQueries counts query pool lookups by result.
	CompiledQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_query_pool_total",
			Help: "Compiled query pool lookups",
		},
		[]string{"result"},
	)
)
