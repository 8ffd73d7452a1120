package defeater

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

// DefaultBatchSize is the number of packs checked concurrently.
const DefaultBatchSize = 10

// Options configures a defeater run.
type Options struct {
	BatchSize int
	Floor     float64
}

// Outcome summarizes a defeater run.
type Outcome struct {
	Kept        []knowledge.ContextPack
	Invalidated int
	Failed      int
	Adjusted    int
	Unresolved  int
	Gaps        []knowledge.CoverageGap
}

type itemResult struct {
	res Result
	err error
}

// Run checks packs in fixed-size batches. Each check is isolated: an error or
// panic drops only that pack. Order of kept packs is preserved.
func Run(ctx context.Context, checker Checker, packs []knowledge.ContextPack, opts Options) Outcome {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	results := make([]itemResult, len(packs))
	for start := 0; start < len(packs); start += batch {
		end := min(start+batch, len(packs))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = checkOne(ctx, checker, packs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	var out Outcome
	for i, pack := range packs {
		r := results[i]
		if r.err != nil {
			out.Failed++
			continue
		}
		out.Unresolved += len(r.res.UnresolvedPaths)
		if !r.res.KnowledgeValid {
			out.Invalidated++
			continue
		}

		kept := pack.Clone()
		if r.res.ConfidenceAdjustment < 0 {
			kept.Confidence = lower(pack.Confidence, pack.Confidence+r.res.ConfidenceAdjustment, opts.Floor)
			out.Adjusted++
		}
		out.Kept = append(out.Kept, kept)
	}

	if out.Invalidated > 0 {
		out.Gaps = append(out.Gaps, knowledge.CoverageGap{
			Stage:       stage.DefeaterCheck,
			Message:     fmt.Sprintf("%d packs invalidated by defeaters", out.Invalidated),
			Severity:    stage.SeverityModerate,
			Remediation: "Re-index the changed sources to regenerate their packs.",
		})
	}
	if out.Failed > 0 {
		out.Gaps = append(out.Gaps, knowledge.CoverageGap{
			Stage:       stage.DefeaterCheck,
			Message:     fmt.Sprintf("defeater checks failed for %d packs", out.Failed),
			Severity:    stage.SeveritySignificant,
			Remediation: "Check storage health; unverified packs were dropped.",
		})
	}
	if out.Unresolved > 0 {
		out.Gaps = append(out.Gaps, knowledge.CoverageGap{
			Stage:    stage.DefeaterCheck,
			Message:  fmt.Sprintf("%d related files could not be resolved for change checks", out.Unresolved),
			Severity: stage.SeverityMinor,
		})
	}
	return out
}

func checkOne(ctx context.Context, checker Checker, pack knowledge.ContextPack) (out itemResult) {
	defer func() {
		if r := recover(); r != nil {
			out = itemResult{err: fmt.Errorf("defeater check panicked: %v", r)}
		}
	}()
	res, err := checker.Check(ctx, pack.Clone())
	return itemResult{res: res, err: err}
}
