// Package rerank reorders final packs with an optional external reranker and
// rejects any output that is not a permutation of its input.
package rerank

import (
	"context"
	"errors"
	"fmt"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/stage"
)

// Reranker reorders packs for a query.
type Reranker interface {
	Rerank(ctx context.Context, q knowledge.Query, packs []knowledge.ContextPack) ([]knowledge.ContextPack, error)
}

var (
	// ErrInvalidOutput reports a malformed reranker result.
	ErrInvalidOutput = errors.New("invalid output")
	// ErrMismatchedPacks reports a reranker result with a different pack set.
	ErrMismatchedPacks = errors.New("mismatched packs")
)

// Options controls rerank eligibility.
type Options struct {
	Enabled       bool
	Deterministic bool
}

// Eligible reports whether reranking should run, and why not when it should not.
func Eligible(q knowledge.Query, packCount int, opts Options) (bool, string) {
	switch {
	case !opts.Enabled:
		return false, "reranking disabled"
	case opts.Deterministic:
		return false, "deterministic mode"
	case q.Intent == "":
		return false, "no intent"
	case packCount < 2:
		return false, "fewer than two packs"
	case !q.Depth.Deep():
		return false, "depth below L2"
	}
	return true, ""
}

// Validate checks that output is a permutation of input by pack id.
func Validate(input, output []knowledge.ContextPack) error {
	if len(output) != len(input) {
		return fmt.Errorf("%w: got %d packs, want %d", ErrInvalidOutput, len(output), len(input))
	}
	counts := make(map[string]int, len(input))
	for _, p := range input {
		counts[p.PackID]++
	}
	for i, p := range output {
		if p.PackID == "" {
			return fmt.Errorf("%w: pack %d has no id", ErrInvalidOutput, i)
		}
		counts[p.PackID]--
	}
	// Report the first offending id in output order, then input order.
	for _, p := range output {
		if counts[p.PackID] < 0 {
			return fmt.Errorf("%w: pack %s", ErrMismatchedPacks, p.PackID)
		}
	}
	for _, p := range input {
		if counts[p.PackID] != 0 {
			return fmt.Errorf("%w: pack %s", ErrMismatchedPacks, p.PackID)
		}
	}
	return nil
}

// Apply runs the reranker and returns the reordered packs. Any error or
// validation failure keeps the original order and reports a minor gap. Packs
// are reordered from the input, so a reranker cannot alter their contents.
func Apply(ctx context.Context, r Reranker, q knowledge.Query, packs []knowledge.ContextPack) ([]knowledge.ContextPack, *knowledge.CoverageGap) {
	out, err := safeRerank(ctx, r, q, knowledge.ClonePacks(packs))
	if err != nil {
		return packs, gap("reranker failed: " + err.Error())
	}
	if err := Validate(packs, out); err != nil {
		return packs, gap("reranker returned " + err.Error())
	}

	byID := make(map[string][]knowledge.ContextPack, len(packs))
	for _, p := range packs {
		byID[p.PackID] = append(byID[p.PackID], p)
	}
	reordered := make([]knowledge.ContextPack, 0, len(out))
	for _, p := range out {
		queue := byID[p.PackID]
		reordered = append(reordered, queue[0])
		byID[p.PackID] = queue[1:]
	}
	return reordered, nil
}

// safeRerank turns a reranker panic into an error.
func safeRerank(ctx context.Context, r Reranker, q knowledge.Query, packs []knowledge.ContextPack) (out []knowledge.ContextPack, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("reranker panicked: %v", p)
		}
	}()
	return r.Rerank(ctx, q, packs)
}

func gap(msg string) *knowledge.CoverageGap {
	return &knowledge.CoverageGap{
		Stage:    stage.Reranking,
		Message:  msg,
		Severity: stage.SeverityMinor,
	}
}
