// Package telemetry exports pipeline stage and cache metrics to Prometheus
// and stage spans to OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ctxpack/internal/stage"
)

var tracer = otel.Tracer("ctxpack.query")

var (
	stageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctxpack_stage_total",
		Help: "Finished pipeline stages by stage and status",
	}, []string{"stage", "status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ctxpack_stage_duration_seconds",
		Help:    "Pipeline stage duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"stage"})

	stageIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctxpack_stage_issues_total",
		Help: "Stage issues by stage and severity",
	}, []string{"stage", "severity"})

	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctxpack_cache_requests_total",
		Help: "Query cache lookups by tier and result",
	}, []string{"tier", "result"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ctxpack_query_duration_seconds",
		Help:    "End to end query latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// Config toggles the exporters.
type Config struct {
	MetricsEnabled bool
	TracingEnabled bool
}

// Recorder implements stage.Recorder and the cache metrics hook.
type Recorder struct {
	cfg Config
	now func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(cfg Config) *Recorder {
	return &Recorder{cfg: cfg, now: time.Now}
}

// RecordStage counts a finished stage and emits a span covering its duration.
func (r *Recorder) RecordStage(ctx context.Context, rep stage.Report) {
	if r == nil {
		return
	}
	if r.cfg.MetricsEnabled {
		stageTotal.WithLabelValues(string(rep.Stage), string(rep.Status)).Inc()
		stageDuration.WithLabelValues(string(rep.Stage)).Observe(float64(rep.DurationMs) / 1000)
		for _, issue := range rep.Issues {
			stageIssues.WithLabelValues(string(rep.Stage), string(issue.Severity)).Inc()
		}
	}
	if r.cfg.TracingEnabled {
		end := r.now()
		start := end.Add(-time.Duration(rep.DurationMs) * time.Millisecond)
		_, span := tracer.Start(ctx, "ctxpack.stage."+string(rep.Stage),
			trace.WithTimestamp(start),
			trace.WithAttributes(
				attribute.String("stage.status", string(rep.Status)),
				attribute.Int("stage.input", rep.Results.Input),
				attribute.Int("stage.output", rep.Results.Output),
				attribute.Int("stage.filtered", rep.Results.Filtered),
				attribute.Int("stage.issues", len(rep.Issues)),
			))
		if rep.Status == stage.StatusFailed {
			span.SetStatus(codes.Error, "stage failed")
		}
		span.End(trace.WithTimestamp(end))
	}
}

// CacheRequest counts a cache lookup.
func (r *Recorder) CacheRequest(tier string, hit bool) {
	if r == nil || !r.cfg.MetricsEnabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequests.WithLabelValues(tier, result).Inc()
}

// StartQuery opens the span that parents one pipeline run. The returned
// function ends it and records the latency.
func (r *Recorder) StartQuery(ctx context.Context, intent string, depth string) (context.Context, func(err error)) {
	start := time.Now()
	var span trace.Span
	if r != nil && r.cfg.TracingEnabled {
		ctx, span = tracer.Start(ctx, "ctxpack.query",
			trace.WithAttributes(
				attribute.String("query.depth", depth),
				attribute.Int("query.intent_length", len(intent)),
			))
	}
	return ctx, func(err error) {
		if r != nil && r.cfg.MetricsEnabled {
			queryDuration.Observe(time.Since(start).Seconds())
		}
		if span == nil {
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
