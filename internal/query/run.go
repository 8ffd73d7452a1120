package query

import (
	"context"
	"fmt"
	"time"

	"ctxpack/internal/cache"
	"ctxpack/internal/config"
	"ctxpack/internal/coverage"
	"ctxpack/internal/envelope"
	"ctxpack/internal/hints"
	"ctxpack/internal/knowledge"
	"ctxpack/internal/scoring"
	"ctxpack/internal/stage"
	"ctxpack/internal/version"
)

// run holds the state of one pipeline execution.
type run struct {
	e    *Engine
	q    knowledge.Query
	opts Options
	cfg  config.PipelineConfig

	deterministic bool
	tracker       *stage.Tracker
	now           func() time.Time
	started       time.Time

	caps     knowledge.Capabilities
	state    knowledge.IndexState
	cacheKey string

	disclosures []string
	gaps        []knowledge.CoverageGap
	evidence    []knowledge.EvidenceEntry

	queryVec   []float32
	direct     []knowledge.ContextPack
	candidates *scoring.Set
	packs      []knowledge.ContextPack
	origins    map[string]stage.Name
	synthesis  *knowledge.SynthesisResult
	truncation *knowledge.Truncation

	shortCircuit string
}

func (e *Engine) newRun(q knowledge.Query, opts Options) *run {
	cfg := e.config.Pipeline
	deterministic := cfg.DeterministicMode || opts.Deterministic

	now := e.now
	if deterministic {
		// A frozen clock keeps every stage duration at zero.
		frozen := e.now()
		now = func() time.Time { return frozen }
	}

	trackerOpts := []stage.Option{
		stage.WithLogger(e.logger),
		stage.WithClock(now),
	}
	if opts.Observer != nil {
		trackerOpts = append(trackerOpts, stage.WithObserver(opts.Observer))
	}
	if e.deps.Metrics != nil {
		trackerOpts = append(trackerOpts, stage.WithRecorder(e.deps.Metrics))
	}

	return &run{
		e:             e,
		q:             q,
		opts:          opts,
		cfg:           cfg,
		deterministic: deterministic,
		tracker:       stage.NewTracker(trackerOpts...),
		now:           now,
		started:       now(),
		candidates:    scoring.NewSet(),
		origins:       make(map[string]stage.Name),
	}
}

// synthesisPossible reports whether synthesis could run for this query at all.
func (r *run) synthesisPossible() bool {
	return r.e.deps.Synthesizer != nil && r.e.config.Pipeline.SynthesisEnabled && !r.deterministic
}

func (r *run) execute(ctx context.Context) (*knowledge.Response, error) {
	if err := r.adequacyScan(ctx); err != nil {
		return nil, err
	}
	if resp, ok := r.lookupCache(ctx); ok {
		return resp, nil
	}

	r.directPacks(ctx)
	if r.shortCircuit == "" {
		if err := r.semanticRetrieval(ctx); err != nil {
			return nil, err
		}
		r.graphExpansion(ctx)
		r.multiSignalScoring(ctx)
		r.multiVectorScoring(ctx)
		r.fallback(ctx)
		r.reranking(ctx)
		r.defeaterCheck(ctx)
		r.methodGuidance(ctx)
		if err := r.synthesize(ctx); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.postProcess(ctx), nil
}

// gap records a coverage gap and the matching stage issue.
func (r *run) gap(name stage.Name, sev stage.Severity, msg, remediation string) {
	r.addGap(knowledge.CoverageGap{Stage: name, Message: msg, Severity: sev, Remediation: remediation})
}

func (r *run) addGap(g knowledge.CoverageGap) {
	r.gaps = append(r.gaps, g)
	r.tracker.Issue(g.Stage, stage.Issue{Message: g.Message, Severity: g.Severity, Remediation: g.Remediation})
}

func (r *run) disclose(reason string) {
	r.disclosures = envelope.AppendUnique(r.disclosures, envelope.Unverified(reason))
}

func (r *run) latency() int64 {
	if r.deterministic {
		return 0
	}
	return r.e.now().Sub(r.started).Milliseconds()
}

// lookupCache computes the cache key and serves a cached response when one
// exists. A hit skips every remaining stage.
func (r *run) lookupCache(ctx context.Context) (*knowledge.Response, bool) {
	r.cacheKey = cache.Key(r.q, r.state.IndexedAt, cache.Mode{
		Synthesis:     r.synthesisPossible(),
		Deterministic: r.deterministic,
	})

	c := r.e.deps.Cache
	if c == nil || r.opts.NoCache {
		return nil, false
	}
	entry, tier, ok := c.Get(ctx, r.cacheKey, r.q.Depth)
	if !ok {
		return nil, false
	}

	r.tracker.FinalizeMissing(ctx, stage.Declared)

	resp := entry.Response.Clone()
	resp.StageReports = r.tracker.Reports()
	resp.Disclosures = envelope.AppendUnique(append([]string(nil), r.disclosures...), resp.Disclosures...)
	resp.CacheHit = true
	resp.CacheKey = r.cacheKey
	resp.IndexState = r.state
	resp.LatencyMs = r.latency()
	resp.Version = version.Version
	resp.FeedbackToken = feedbackToken(r.cacheKey, r.deterministic)

	r.e.emit(ctx, Event{
		Type:   EventCacheHit,
		Intent: r.q.Intent,
		Depth:  r.q.Depth,
		Detail: map[string]string{"tier": string(tier)},
	})
	return &resp, true
}

// postProcess runs the post_processing stage and assembles the response.
func (r *run) postProcess(ctx context.Context) *knowledge.Response {
	r.tracker.Start(stage.PostProcessing, len(r.packs))

	confidence := coverage.Overall(r.packs, r.state)
	issues := false
	if a := r.e.deps.Coherence; a != nil && len(r.packs) > 1 {
		coh, err := safeAnalyze(ctx, a, r.q, r.packs)
		if err != nil {
			issues = true
			r.gap(stage.PostProcessing, stage.SeverityMinor, "coherence analysis failed: "+err.Error(), "")
		} else {
			if coh.Adjustment < 0 {
				r.disclose(envelope.ReasonIncoherentPacks)
			}
			confidence = coverage.ApplyCoherence(confidence, coh.Adjustment)
			r.disclosures = envelope.AppendUnique(r.disclosures, coh.Warnings...)
		}
	}

	packs := r.packs
	filtered := 0
	nr := coverage.CheckNoResults(packs, r.tracker.Reports(), r.gaps, r.noResultsFloor())
	if nr != nil {
		filtered = len(packs)
		packs = []knowledge.ContextPack{}
		r.disclose(envelope.ReasonLowConfidence)
	}

	// Post-processing always produces a response, so it succeeds unless it
	// recorded issues.
	status := stage.StatusSuccess
	if issues {
		status = stage.StatusPartial
	}
	r.tracker.Finish(ctx, stage.PostProcessing, stage.FinishOptions{Output: len(packs), Filtered: filtered, Status: status})
	r.tracker.FinalizeMissing(ctx, stage.Declared)
	reports := r.tracker.Reports()

	resp := &knowledge.Response{
		Query:          r.q,
		Packs:          packs,
		Disclosures:    nonNilStrings(r.disclosures),
		Confidence:     confidence,
		ConfidenceTier: coverage.Tier(confidence),
		Coverage:       coverage.Assess(reports, packs, r.gaps, len(stage.Declared)),
		CoverageGaps:   append([]knowledge.CoverageGap{}, r.gaps...),
		StageReports:   reports,
		Synthesis:      r.synthesis,
		IndexState:     r.state,
		CacheKey:       r.cacheKey,
		FeedbackToken:  feedbackToken(r.cacheKey, r.deterministic),
		Version:        version.Version,
	}
	if t := r.truncation; t != nil {
		resp.Truncation = &knowledge.Truncation{Shown: len(packs), Total: t.Total, Reason: t.Reason}
	}
	if nr != nil {
		resp.NoResults = true
		resp.NoResultsReasons = nr.Reasons
		resp.Suggestions = nr.Suggestions
	}

	drilldowns := hints.Generate(&hints.Context{
		Query:      r.q,
		Packs:      packs,
		Reports:    reports,
		Gaps:       r.gaps,
		Confidence: confidence,
		NoResults:  resp.NoResults,
	})
	resp.DrillDownHints, resp.FollowUpQueries = hints.Split(drilldowns)
	resp.DrillDownHints = nonNilStrings(resp.DrillDownHints)
	if resp.FollowUpQueries == nil {
		resp.FollowUpQueries = []knowledge.FollowUp{}
	}
	resp.Explanation = explain(reports, len(packs), r.candidates.Len(), r.shortCircuit)
	resp.LatencyMs = r.latency()

	r.writeCache(ctx, resp)
	return resp
}

// safeAnalyze runs the coherence analyzer and converts a panic into an error.
func safeAnalyze(ctx context.Context, a coverage.CoherenceAnalyzer, q knowledge.Query, packs []knowledge.ContextPack) (coh coverage.Coherence, err error) {
	defer func() {
		if p := recover(); p != nil {
			coh, err = coverage.Coherence{}, fmt.Errorf("coherence analyzer panicked: %v", p)
		}
	}()
	return a.Analyze(ctx, q, knowledge.ClonePacks(packs))
}

func (r *run) noResultsFloor() float64 {
	if r.cfg.NoResultsFloor > 0 {
		return r.cfg.NoResultsFloor
	}
	return coverage.DefaultNoResultsFloor
}

// writeCache stores the response. Responses produced before the index is
// ready are never cached.
func (r *run) writeCache(ctx context.Context, resp *knowledge.Response) {
	c := r.e.deps.Cache
	if c == nil || r.opts.NoCache || !r.state.Ready() {
		return
	}

	evidence := make([]knowledge.EvidenceRef, 0, len(resp.Packs))
	for _, p := range resp.Packs {
		evidence = append(evidence, knowledge.EvidenceRef{
			PackID:     p.PackID,
			Stage:      r.origins[p.PackID],
			Confidence: p.Confidence,
		})
	}
	entry := knowledge.CachedResponse{
		Response:  resp.Clone(),
		Evidence:  evidence,
		IndexedAt: r.state.IndexedAt,
		CachedAt:  r.e.now(),
	}
	if err := c.Set(ctx, r.cacheKey, r.q.Depth, entry); err != nil {
		r.e.logger.Warn("Failed to write query cache", map[string]interface{}{
			"key":   r.cacheKey,
			"error": err.Error(),
		})
	}
}

// explain summarizes how the response was produced.
func explain(reports []stage.Report, packs, candidates int, shortCircuit string) string {
	counts := make(map[stage.Status]int, 4)
	for _, rep := range reports {
		counts[rep.Status]++
	}
	source := fmt.Sprintf("%d packs from %d candidates", packs, candidates)
	if shortCircuit != "" {
		source = fmt.Sprintf("%d packs from short-circuit %s", packs, shortCircuit)
	}
	return fmt.Sprintf("%s; stages: %d success, %d partial, %d failed, %d skipped",
		source,
		counts[stage.StatusSuccess],
		counts[stage.StatusPartial],
		counts[stage.StatusFailed],
		counts[stage.StatusSkipped])
}

// afterResponse registers feedback and fires the completion side effects.
func (e *Engine) afterResponse(ctx context.Context, r *run, resp *knowledge.Response) {
	e.rememberFeedback(resp)
	e.emit(ctx, Event{
		Type:   EventQueryCompleted,
		Intent: resp.Query.Intent,
		Depth:  resp.Query.Depth,
		Detail: map[string]string{
			"packs":      fmt.Sprint(len(resp.Packs)),
			"confidence": fmt.Sprintf("%.3f", resp.Confidence),
			"cacheHit":   fmt.Sprint(resp.CacheHit),
		},
	})
	e.recordEpisode(ctx, resp)
	e.appendEvidence(ctx, r.evidence)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
