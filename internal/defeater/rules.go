// Package defeater invalidates or discounts context packs whose knowledge
// may no longer hold, and decays confidence by age.
package defeater

import (
	"context"
	"fmt"
	"sync"

	"ctxpack/internal/knowledge"
)

// Result is the verdict of a defeater check for one pack.
type Result struct {
	KnowledgeValid       bool
	ConfidenceAdjustment float64
	Reasons              []string
	UnresolvedPaths      []string
}

// Checker evaluates a pack against the defeater rules.
type Checker interface {
	Check(ctx context.Context, pack knowledge.ContextPack) (Result, error)
}

// Source is the storage surface the rule checker needs.
type Source interface {
	GetFileState(ctx context.Context, path string) (*knowledge.FileState, error)
	GetIngestionItems(ctx context.Context, kind string) ([]knowledge.IngestionItem, error)
}

const (
	changedPenalty    = 0.3
	testFailedPenalty = 0.25
)

// RuleChecker applies the built-in rules: source changed since the pack was
// generated, and a related test failed after it was generated.
type RuleChecker struct {
	src Source

	once     sync.Once
	failures map[string][]knowledge.IngestionItem
	loadErr  error
}

// NewRuleChecker creates a checker over src.
func NewRuleChecker(src Source) *RuleChecker {
	return &RuleChecker{src: src}
}

// Check implements Checker.
func (c *RuleChecker) Check(ctx context.Context, pack knowledge.ContextPack) (Result, error) {
	res := Result{KnowledgeValid: true}

	changed, resolved := 0, 0
	for _, path := range pack.RelatedFiles {
		state, err := c.src.GetFileState(ctx, path)
		if err != nil {
			return Result{}, fmt.Errorf("file state for %s: %w", path, err)
		}
		if state == nil {
			res.UnresolvedPaths = append(res.UnresolvedPaths, path)
			continue
		}
		resolved++
		if !pack.CreatedAt.IsZero() && state.ModifiedAt.After(pack.CreatedAt) {
			changed++
			res.Reasons = append(res.Reasons, "source changed: "+path)
		}
	}

	switch {
	case resolved > 0 && changed == resolved:
		res.KnowledgeValid = false
		return res, nil
	case changed > 0:
		res.ConfidenceAdjustment -= changedPenalty * float64(changed) / float64(resolved)
	}

	failures, err := c.testFailures(ctx)
	if err != nil {
		return Result{}, err
	}
	for _, path := range pack.RelatedFiles {
		for _, item := range failures[path] {
			if pack.CreatedAt.IsZero() || item.ObservedAt.After(pack.CreatedAt) {
				res.ConfidenceAdjustment -= testFailedPenalty
				res.Reasons = append(res.Reasons, "related test failed: "+path)
				return res, nil
			}
		}
	}

	return res, nil
}

// testFailures loads failed test results once per checker, keyed by path.
func (c *RuleChecker) testFailures(ctx context.Context) (map[string][]knowledge.IngestionItem, error) {
	c.once.Do(func() {
		items, err := c.src.GetIngestionItems(ctx, knowledge.IngestionTestResult)
		if err != nil {
			c.loadErr = fmt.Errorf("load test results: %w", err)
			return
		}
		c.failures = make(map[string][]knowledge.IngestionItem)
		for _, item := range items {
			if item.Status == "failed" {
				c.failures[item.Path] = append(c.failures[item.Path], item)
			}
		}
	})
	return c.failures, c.loadErr
}
