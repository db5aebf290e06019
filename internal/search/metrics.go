package search

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for search operations.
var (
	tracer = otel.Tracer("cfgds.search")
	meter  = otel.Meter("cfgds.search")
)

// Metrics for method searches.
var (
	iterationsTotal  metric.Int64Counter
	oracleCallsTotal metric.Int64Counter
	oracleLatency    metric.Float64Histogram
	seedsTotal       metric.Int64Counter
	sessionsTotal    metric.Int64Counter
	branchCoverage   metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		iterationsTotal, err = meter.Int64Counter(
			"cfgds_iterations_total",
			metric.WithDescription("Search iterations by strategy"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		oracleCallsTotal, err = meter.Int64Counter(
			"cfgds_oracle_calls_total",
			metric.WithDescription("Execution oracle calls by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		oracleLatency, err = meter.Float64Histogram(
			"cfgds_oracle_duration_seconds",
			metric.WithDescription("Duration of execution oracle calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		seedsTotal, err = meter.Int64Counter(
			"cfgds_seeds_total",
			metric.WithDescription("Generated inputs that covered new branches, by origin"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sessionsTotal, err = meter.Int64Counter(
			"cfgds_sessions_total",
			metric.WithDescription("Finished method searches by final phase"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		branchCoverage, err = meter.Float64Histogram(
			"cfgds_branch_coverage_percent",
			metric.WithDescription("Branch coverage reached per method"),
			metric.WithUnit("%"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordIteration(ctx context.Context, strategy string) {
	if err := initMetrics(); err != nil {
		return
	}
	iterationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// recordOracleCall records one oracle call; outcome is "ok" or the error class.
func recordOracleCall(ctx context.Context, duration time.Duration, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	oracleCallsTotal.Add(ctx, 1, attrs)
	oracleLatency.Record(ctx, duration.Seconds(), attrs)
}

func recordSeed(ctx context.Context, origin string) {
	if err := initMetrics(); err != nil {
		return
	}
	seedsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}

func recordSession(ctx context.Context, r *Result) {
	if err := initMetrics(); err != nil {
		return
	}
	sessionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(r.Phase))))
	branchCoverage.Record(ctx, r.Stats.BranchCoverage())
}

// startSessionSpan creates a span for the search of one method.
func startSessionSpan(ctx context.Context, method, strategy string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session.Run",
		trace.WithAttributes(
			attribute.String("cfgds.method", method),
			attribute.String("cfgds.strategy", strategy),
		),
	)
}

// setSessionSpanResult sets the result attributes on a session span.
func setSessionSpanResult(span trace.Span, r *Result) {
	span.SetAttributes(
		attribute.String("cfgds.phase", string(r.Phase)),
		attribute.Int("cfgds.iterations", r.Iterations),
		attribute.Int("cfgds.oracle_calls", r.OracleCalls),
		attribute.Int("cfgds.seeds", len(r.Seeds)),
		attribute.Int("cfgds.covered_branches", r.Stats.CoveredBranches),
		attribute.Int("cfgds.branches", r.Stats.Branches),
	)
}

// startOracleSpan creates a span for one oracle call.
func startOracleSpan(ctx context.Context, stage string, predicates int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Oracle."+stage,
		trace.WithAttributes(attribute.Int("cfgds.predicates", predicates)),
	)
}
