package stage

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"ctxpack/internal/logging"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		input  int
		output int
		issues int
		want   Status
	}{
		{"no input", 0, 0, 0, StatusSkipped},
		{"no input with issues", 0, 3, 2, StatusSkipped},
		{"no output with issues", 5, 0, 1, StatusFailed},
		{"no output without issues", 5, 0, 0, StatusPartial},
		{"output with issues", 5, 3, 1, StatusPartial},
		{"clean", 5, 5, 0, StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.input, tt.output, tt.issues); got != tt.want {
				t.Errorf("DeriveStatus(%d, %d, %d) = %s, want %s", tt.input, tt.output, tt.issues, got, tt.want)
			}
		})
	}
}

func TestTracker_QueuedIssuesAttachOnStart(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	tr.Issue(GraphExpansion, Issue{Message: "metrics missing", Severity: SeverityMinor})
	tr.Start(GraphExpansion, 4)
	rep := tr.Finish(ctx, GraphExpansion, FinishOptions{Output: 4})

	if len(rep.Issues) != 1 {
		t.Fatalf("expected queued issue to attach, got %d issues", len(rep.Issues))
	}
	if rep.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", rep.Status)
	}
	if rep.Results.Input != 4 || rep.Results.Output != 4 {
		t.Errorf("Results = %+v, want input=4 output=4", rep.Results)
	}
}

func TestTracker_StatusOverride(t *testing.T) {
	tr := NewTracker()
	tr.Start(Synthesis, 3)
	rep := tr.Finish(context.Background(), Synthesis, FinishOptions{Output: 3, Status: StatusSkipped})

	if rep.Status != StatusSkipped {
		t.Errorf("Status = %s, want skipped", rep.Status)
	}
}

func TestTracker_FinishTwiceKeepsFirst(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	tr.Start(Fallback, 1)
	tr.Finish(ctx, Fallback, FinishOptions{Output: 1})
	rep := tr.Finish(ctx, Fallback, FinishOptions{Output: 0, Status: StatusFailed})

	if rep.Status != StatusSuccess {
		t.Errorf("second finish changed status to %s", rep.Status)
	}
	if n := len(tr.Reports()); n != 1 {
		t.Errorf("expected 1 report, got %d", n)
	}
}

func TestTracker_FinalizeMissingCompletesDeclaredOrder(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	// Finish out of order and leave most stages untouched.
	tr.Start(PostProcessing, 1)
	tr.Finish(ctx, PostProcessing, FinishOptions{Output: 1})
	tr.Start(AdequacyScan, 1)
	tr.Finish(ctx, AdequacyScan, FinishOptions{Output: 1})
	tr.Issue(Reranking, Issue{Message: "not eligible", Severity: SeverityMinor})

	tr.FinalizeMissing(ctx, Declared)

	reports := tr.Reports()
	if len(reports) != len(Declared) {
		t.Fatalf("got %d reports, want %d", len(reports), len(Declared))
	}
	for i, rep := range reports {
		if rep.Stage != Declared[i] {
			t.Errorf("report[%d] = %s, want %s", i, rep.Stage, Declared[i])
		}
	}
	for _, rep := range reports {
		switch rep.Stage {
		case AdequacyScan, PostProcessing:
			if rep.Status != StatusSuccess {
				t.Errorf("%s status = %s, want success", rep.Stage, rep.Status)
			}
		case Reranking:
			if rep.Status != StatusSkipped || len(rep.Issues) != 1 {
				t.Errorf("reranking = %+v, want skipped with queued issue", rep)
			}
		default:
			if rep.Status != StatusSkipped {
				t.Errorf("%s status = %s, want skipped", rep.Stage, rep.Status)
			}
		}
	}
}

func TestTracker_ObserverPanicIsContained(t *testing.T) {
	var calls int
	obs := ObserverFunc(func(Report) {
		calls++
		panic("boom")
	})
	logger := logging.NewLogger(logging.Config{Output: io.Discard})
	tr := NewTracker(WithObserver(obs), WithLogger(logger))

	tr.Start(DirectPacks, 1)
	rep := tr.Finish(context.Background(), DirectPacks, FinishOptions{Output: 1})

	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
	if rep.Status != StatusSuccess {
		t.Errorf("Status = %s, want success", rep.Status)
	}
}

func TestTracker_ObserverCannotMutateState(t *testing.T) {
	obs := ObserverFunc(func(r Report) {
		r.Issues = append(r.Issues[:0], Issue{Message: "tampered"})
		r.Status = StatusFailed
	})
	tr := NewTracker(WithObserver(obs))
	ctx := context.Background()

	tr.Start(Synthesis, 1)
	tr.Issue(Synthesis, Issue{Message: "original", Severity: SeverityMinor})
	tr.Finish(ctx, Synthesis, FinishOptions{Output: 1})

	rep := tr.Reports()[0]
	if rep.Status != StatusPartial || rep.Issues[0].Message != "original" {
		t.Errorf("observer mutated tracker state: %+v", rep)
	}
}

func TestTracker_FrozenClockYieldsZeroDuration(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(WithClock(func() time.Time { return fixed }))

	tr.Start(SemanticRetrieval, 2)
	rep := tr.Finish(context.Background(), SemanticRetrieval, FinishOptions{Output: 2})
	if rep.DurationMs != 0 {
		t.Errorf("DurationMs = %d, want 0", rep.DurationMs)
	}
}

type recordingRecorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recordingRecorder) RecordStage(_ context.Context, rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func TestTracker_RecorderSeesEveryReport(t *testing.T) {
	rec := &recordingRecorder{}
	tr := NewTracker(WithRecorder(rec))
	tr.FinalizeMissing(context.Background(), Declared)

	if len(rec.reports) != len(Declared) {
		t.Errorf("recorder saw %d reports, want %d", len(rec.reports), len(Declared))
	}
}

func TestTracker_ConcurrentIssues(t *testing.T) {
	tr := NewTracker()
	tr.Start(DefeaterCheck, 20)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Issue(DefeaterCheck, Issue{Message: "x", Severity: SeverityMinor})
		}()
	}
	wg.Wait()

	rep := tr.Finish(context.Background(), DefeaterCheck, FinishOptions{Output: 10})
	if len(rep.Issues) != 20 {
		t.Errorf("got %d issues, want 20", len(rep.Issues))
	}
}
