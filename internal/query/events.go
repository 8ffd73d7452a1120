package query

import (
	"context"
	"fmt"
	"time"

	"ctxpack/internal/errors"
	"ctxpack/internal/knowledge"
)

// EventType names a pipeline event.
type EventType string

const (
	EventQueryStarted   EventType = "query_started"
	EventQueryCompleted EventType = "query_completed"
	EventCacheHit       EventType = "cache_hit"
	EventShortCircuit   EventType = "short_circuit"
	EventErrorTrace     EventType = "error_trace"
)

// Event is emitted to the EventSink at notable points of a run.
type Event struct {
	Type   EventType         `json:"type"`
	Intent string            `json:"intent"`
	Depth  knowledge.Depth   `json:"depth"`
	Detail map[string]string `json:"detail,omitempty"`
	Error  string            `json:"error,omitempty"`
	At     time.Time         `json:"at"`
}

// EventSink receives pipeline events.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// EpisodeRecorder persists one episode per answered query.
type EpisodeRecorder interface {
	RecordEpisode(ctx context.Context, ep knowledge.Episode) error
}

// EvidenceLedger appends evidence entries, such as packs dropped by defeaters.
type EvidenceLedger interface {
	AppendEvidence(ctx context.Context, entry knowledge.EvidenceEntry) error
}

// sideEffect runs fn in the background. Errors and panics are logged and never
// reach the caller. The request context's cancellation is detached.
func (e *Engine) sideEffect(ctx context.Context, what string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("Side effect panicked", map[string]interface{}{
					"effect": what,
					"panic":  fmt.Sprint(r),
				})
			}
		}()
		if err := fn(ctx); err != nil {
			e.logger.Warn("Side effect failed", map[string]interface{}{
				"effect": what,
				"error":  err.Error(),
			})
		}
	}()
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	sink := e.deps.Events
	if sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.sideEffect(ctx, "event:"+string(ev.Type), func(ctx context.Context) error {
		return sink.Emit(ctx, ev)
	})
}

func (e *Engine) emitErrorTrace(ctx context.Context, q knowledge.Query, err error) {
	e.logger.Error("Query failed", map[string]interface{}{
		"intent": q.Intent,
		"depth":  string(q.Depth),
		"error":  err.Error(),
	})
	e.emit(ctx, Event{
		Type:   EventErrorTrace,
		Intent: q.Intent,
		Depth:  q.Depth,
		Error:  err.Error(),
		Detail: map[string]string{"code": string(errors.CodeOf(err))},
	})
}

func (e *Engine) recordEpisode(ctx context.Context, resp *knowledge.Response) {
	rec := e.deps.Episodes
	if rec == nil {
		return
	}
	ep := knowledge.Episode{
		Intent:       resp.Query.Intent,
		Depth:        resp.Query.Depth,
		PackIDs:      knowledge.PackIDs(resp.Packs),
		Confidence:   resp.Confidence,
		GapCount:     len(resp.CoverageGaps),
		NoResults:    resp.NoResults,
		CacheHit:     resp.CacheHit,
		LatencyMs:    resp.LatencyMs,
		CreatedAt:    e.now(),
		FeedbackHint: resp.FeedbackToken,
	}
	e.sideEffect(ctx, "episode", func(ctx context.Context) error {
		return rec.RecordEpisode(ctx, ep)
	})
}

func (e *Engine) appendEvidence(ctx context.Context, entries []knowledge.EvidenceEntry) {
	ledger := e.deps.Evidence
	if ledger == nil || len(entries) == 0 {
		return
	}
	now := e.now()
	for i := range entries {
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}
	e.sideEffect(ctx, "evidence", func(ctx context.Context) error {
		for _, entry := range entries {
			if err := ledger.AppendEvidence(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}
