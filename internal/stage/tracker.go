package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ctxpack/internal/logging"
)

// Observer receives a copy of every finished stage report.
type Observer interface {
	OnStage(report Report)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(report Report)

// OnStage calls f(report).
func (f ObserverFunc) OnStage(report Report) {
	f(report)
}

// Recorder receives finished reports for metrics and tracing.
type Recorder interface {
	RecordStage(ctx context.Context, report Report)
}

// FinishOptions describes the outcome of a stage. A zero Status means the
// status is derived from the counts.
type FinishOptions struct {
	Output   int
	Filtered int
	Status   Status
}

type running struct {
	started time.Time
	input   int
	issues  []Issue
}

// Tracker records stage starts, issues and finishes for a single pipeline run.
// It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	order    []Name
	active   map[Name]*running
	pending  map[Name][]Issue
	reports  map[Name]Report
	finished []Name

	observer Observer
	recorder Recorder
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithObserver sets the observer notified on every finished stage.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// WithLogger sets the logger used to report observer failures.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the time source. A frozen clock yields zero durations.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithOrder overrides the declared stage order used by Reports.
func WithOrder(order []Name) Option {
	return func(t *Tracker) { t.order = append([]Name(nil), order...) }
}

// NewTracker creates a tracker for one pipeline run.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		order:   append([]Name(nil), Declared...),
		active:  make(map[Name]*running),
		pending: make(map[Name][]Issue),
		reports: make(map[Name]Report),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start marks a stage as running with the given input count. Issues queued
// for the stage are attached.
func (t *Tracker) Start(name Name, input int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, done := t.reports[name]; done {
		return
	}
	if _, ok := t.active[name]; ok {
		return
	}

	r := &running{started: t.now(), input: input}
	r.issues = append(r.issues, t.pending[name]...)
	delete(t.pending, name)
	t.active[name] = r
}

// Issue records a problem for a stage. Issues for stages that have not started
// yet are queued until Start.
func (t *Tracker) Issue(name Name, issue Issue) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.active[name]; ok {
		r.issues = append(r.issues, issue)
		return
	}
	if rep, ok := t.reports[name]; ok {
		rep.Issues = append(rep.Issues, issue)
		t.reports[name] = rep
		return
	}
	t.pending[name] = append(t.pending[name], issue)
}

// Finish completes a stage and broadcasts its report. Finishing a stage that
// was never started records it with zero input. Finishing twice keeps the
// first report.
func (t *Tracker) Finish(ctx context.Context, name Name, opts FinishOptions) Report {
	t.mu.Lock()
	if rep, done := t.reports[name]; done {
		t.mu.Unlock()
		return rep.Clone()
	}

	r, ok := t.active[name]
	if !ok {
		r = &running{started: t.now()}
		r.issues = append(r.issues, t.pending[name]...)
		delete(t.pending, name)
	}
	delete(t.active, name)

	status := opts.Status
	if status == "" {
		status = DeriveStatus(r.input, opts.Output, len(r.issues))
	}

	rep := Report{
		Stage:  name,
		Status: status,
		Results: Results{
			Input:    r.input,
			Output:   opts.Output,
			Filtered: opts.Filtered,
		},
		Issues:     append([]Issue{}, r.issues...),
		DurationMs: t.now().Sub(r.started).Milliseconds(),
	}
	t.reports[name] = rep
	t.finished = append(t.finished, name)
	t.mu.Unlock()

	t.broadcast(ctx, rep)
	return rep.Clone()
}

// FinalizeMissing emits a skipped report for every named stage that has not
// finished. Stages still running are closed as skipped as well.
func (t *Tracker) FinalizeMissing(ctx context.Context, names []Name) {
	for _, name := range names {
		t.mu.Lock()
		_, done := t.reports[name]
		t.mu.Unlock()
		if done {
			continue
		}
		t.Finish(ctx, name, FinishOptions{Status: StatusSkipped})
	}
}

// Has reports whether the stage has a finished report.
func (t *Tracker) Has(name Name) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.reports[name]
	return ok
}

// Reports returns copies of all finished reports, declared stages first in
// declared order, followed by any undeclared stages in finish order.
func (t *Tracker) Reports() []Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Report, 0, len(t.reports))
	seen := make(map[Name]bool, len(t.reports))
	for _, name := range t.order {
		if rep, ok := t.reports[name]; ok {
			out = append(out, rep.Clone())
			seen[name] = true
		}
	}
	for _, name := range t.finished {
		if !seen[name] {
			out = append(out, t.reports[name].Clone())
			seen[name] = true
		}
	}
	return out
}

func (t *Tracker) broadcast(ctx context.Context, rep Report) {
	if t.recorder != nil {
		t.recorder.RecordStage(ctx, rep.Clone())
	}
	if t.observer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("Stage observer panicked", map[string]interface{}{
				"stage": string(rep.Stage),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	t.observer.OnStage(rep.Clone())
}
