package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"ctxpack/internal/defeater"
	"ctxpack/internal/embeddings"
	"ctxpack/internal/envelope"
	"ctxpack/internal/errors"
	"ctxpack/internal/graph"
	"ctxpack/internal/knowledge"
	"ctxpack/internal/rerank"
	"ctxpack/internal/scoring"
	"ctxpack/internal/stage"
	"ctxpack/internal/synthesis"
)

// topKByDepth is the semantic search width per depth.
var topKByDepth = map[knowledge.Depth]int{
	knowledge.DepthL0: 5,
	knowledge.DepthL1: 10,
	knowledge.DepthL2: 20,
	knowledge.DepthL3: 30,
}

// graphEntityTypes are the entity types with precomputed graph metrics.
var graphEntityTypes = []knowledge.EntityType{
	knowledge.EntityFunction,
	knowledge.EntityModule,
	knowledge.EntityFile,
}

const (
	maxIndexPoll = 250 * time.Millisecond
	minIndexPoll = 10 * time.Millisecond
)

// adequacyScan reads capabilities and index state. An empty index or an
// unreadable index state is fatal.
func (r *run) adequacyScan(ctx context.Context) error {
	r.tracker.Start(stage.AdequacyScan, 1)
	r.caps = r.e.deps.Storage.Capabilities()

	state, err := r.waitForIndex(ctx)
	if err != nil {
		r.tracker.Issue(stage.AdequacyScan, stage.Issue{Message: "index state unavailable", Severity: stage.SeveritySignificant})
		r.tracker.Finish(ctx, stage.AdequacyScan, stage.FinishOptions{})
		return errors.New(errors.StorageFailure, "reading index state failed", err)
	}
	r.state = state

	if state.Empty() {
		r.tracker.Issue(stage.AdequacyScan, stage.Issue{
			Message:     "knowledge index is empty",
			Severity:    stage.SeveritySignificant,
			Remediation: "Run indexing before querying.",
		})
		r.tracker.Finish(ctx, stage.AdequacyScan, stage.FinishOptions{})
		return errors.New(errors.IndexEmpty, "the knowledge index is empty; index the repository first", nil)
	}

	if !state.Ready() {
		r.gap(stage.AdequacyScan, stage.SeverityModerate,
			fmt.Sprintf("index is %s (%.0f%% complete)", state.Phase, state.Progress*100),
			"Re-run the query once indexing has finished.")
		r.disclose(envelope.ReasonIndexNotReady)
	}
	if !r.caps.Embeddings {
		r.gap(stage.AdequacyScan, stage.SeverityMinor, "index has no embeddings", "Index with an embedding provider configured.")
		r.disclose(envelope.ReasonIndexDegraded)
	}

	r.tracker.Finish(ctx, stage.AdequacyScan, stage.FinishOptions{Output: 1})
	return nil
}

// waitForIndex polls the index state until it is ready, has failed, or the
// configured wait elapses.
func (r *run) waitForIndex(ctx context.Context) (knowledge.IndexState, error) {
	store := r.e.deps.Storage
	state, err := store.GetIndexState(ctx)
	wait := time.Duration(r.cfg.WaitForIndexMs) * time.Millisecond
	if err != nil || wait <= 0 || state.Ready() || state.Phase == knowledge.PhaseFailed {
		return state, err
	}

	interval := min(max(wait/10, minIndexPoll), maxIndexPoll)
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return state, nil
		case <-deadline.C:
			return state, nil
		case <-ticker.C:
			state, err = store.GetIndexState(ctx)
			if err != nil || state.Ready() || state.Phase == knowledge.PhaseFailed {
				return state, err
			}
		}
	}
}

// directPacks runs the short-circuits, then collects the packs targeting each
// affected file.
func (r *run) directPacks(ctx context.Context) {
	for _, sc := range r.e.deps.ShortCircuits {
		if sc.Detect == nil || sc.Build == nil {
			continue
		}
		match, confident, err := sc.detect(ctx, r.q)
		if err != nil {
			r.gap(stage.DirectPacks, stage.SeverityMinor,
				fmt.Sprintf("short-circuit %s failed: %v", sc.Name, err), "")
			continue
		}
		if !confident {
			continue
		}
		packs, err := sc.build(ctx, match)
		if err != nil {
			r.gap(stage.DirectPacks, stage.SeverityMinor,
				fmt.Sprintf("short-circuit %s failed: %v", sc.Name, err), "")
			continue
		}
		if len(packs) == 0 {
			continue
		}

		r.tracker.Start(stage.DirectPacks, 1)
		r.shortCircuit = sc.Name
		r.packs = r.rankPacks(toScored(packs, stage.DirectPacks))
		for _, p := range r.packs {
			r.origins[p.PackID] = stage.DirectPacks
		}
		r.disclose(envelope.ReasonShortCircuit)
		r.tracker.Finish(ctx, stage.DirectPacks, stage.FinishOptions{Output: len(r.packs)})
		r.e.emit(ctx, Event{
			Type:   EventShortCircuit,
			Intent: r.q.Intent,
			Depth:  r.q.Depth,
			Detail: map[string]string{"shortCircuit": sc.Name, "reason": match.Reason},
		})
		return
	}

	r.tracker.Start(stage.DirectPacks, len(r.q.AffectedFiles))
	failed := 0
	for _, file := range r.q.SortedFiles() {
		packs, err := r.e.deps.Storage.GetContextPacks(ctx, file, "")
		if err != nil {
			failed++
			continue
		}
		r.direct = append(r.direct, packs...)
	}
	if failed > 0 {
		r.gap(stage.DirectPacks, stage.SeverityMinor,
			fmt.Sprintf("packs for %d affected files could not be loaded", failed), "")
	}
	r.tracker.Finish(ctx, stage.DirectPacks, stage.FinishOptions{Output: len(r.direct)})
}

// semanticRetrieval embeds the intent and searches for similar entities. An
// invalid embedding is fatal; every other failure degrades the stage.
func (r *run) semanticRetrieval(ctx context.Context) error {
	svc := r.e.deps.Embeddings
	if r.q.Intent == "" {
		r.tracker.Start(stage.SemanticRetrieval, 0)
		r.tracker.Finish(ctx, stage.SemanticRetrieval, stage.FinishOptions{})
		return nil
	}
	if svc == nil {
		r.tracker.Start(stage.SemanticRetrieval, 0)
		r.gap(stage.SemanticRetrieval, stage.SeverityModerate, "no embedding provider configured",
			"Configure embeddings.provider to enable semantic retrieval.")
		r.disclose(envelope.ReasonSemanticDegraded)
		r.tracker.Finish(ctx, stage.SemanticRetrieval, stage.FinishOptions{Status: stage.StatusSkipped})
		return nil
	}

	r.tracker.Start(stage.SemanticRetrieval, 1)
	vec, err := svc.Embed(ctx, r.q.Intent, embeddings.KindQuery)
	if err != nil {
		if errors.HasCode(err, errors.InvalidEmbedding) {
			r.tracker.Issue(stage.SemanticRetrieval, stage.Issue{Message: err.Error(), Severity: stage.SeveritySignificant})
			r.tracker.Finish(ctx, stage.SemanticRetrieval, stage.FinishOptions{})
			return err
		}
		r.gap(stage.SemanticRetrieval, stage.SeveritySignificant, "embedding the intent failed: "+err.Error(),
			"Check the embedding provider configuration and availability.")
		r.disclose(envelope.ReasonSemanticDegraded)
		r.tracker.Finish(ctx, stage.SemanticRetrieval, stage.FinishOptions{})
		return nil
	}
	r.queryVec = vec

	added := r.search(ctx, stage.SemanticRetrieval, knowledge.SimilarityOptions{
		TopK:          topKByDepth[r.q.Depth],
		MinSimilarity: r.cfg.SemanticMinSimilarity,
	}, scoring.SourceSemantic)
	r.tracker.Finish(ctx, stage.SemanticRetrieval, stage.FinishOptions{Output: added})
	return nil
}

// search runs a similarity search and adds the hits as candidates. Search
// problems are recorded against name.
func (r *run) search(ctx context.Context, name stage.Name, opts knowledge.SimilarityOptions, src scoring.Source) int {
	res, err := r.e.deps.Storage.SimilaritySearch(ctx, r.queryVec, opts)
	if err != nil {
		r.gap(name, stage.SeveritySignificant, "similarity search failed: "+err.Error(), "")
		r.disclose(envelope.ReasonSemanticDegraded)
		return 0
	}
	if res.Degraded {
		msg := "similarity search degraded"
		if res.DegradedReason != "" {
			msg += ": " + res.DegradedReason
		}
		r.gap(name, stage.SeverityModerate, msg, "Re-index embeddings for full semantic coverage.")
		r.disclose(envelope.ReasonSemanticDegraded)
	}

	added := 0
	now := r.e.now()
	for _, m := range res.Matches {
		c := scoring.Candidate{
			EntityID:           m.EntityID,
			EntityType:         m.EntityType,
			Path:               m.Path,
			Source:             src,
			SemanticSimilarity: m.Similarity,
			Recency:            scoring.DefaultRecency,
		}
		r.describe(ctx, &c, now)
		if r.candidates.Add(c) {
			added++
		}
	}
	return added
}

// describe fills confidence, recency and a missing path from the stored
// entity. Lookup failures leave the defaults in place.
func (r *run) describe(ctx context.Context, c *scoring.Candidate, now time.Time) {
	entity, err := r.e.deps.Storage.GetEntity(ctx, c.EntityID)
	if err != nil || entity == nil {
		return
	}
	c.Confidence = entity.Confidence
	c.Recency = scoring.Recency(entity.UpdatedAt, now)
	if c.Path == "" {
		c.Path = entity.Path
	}
}

// graphExpansion enriches candidates from precomputed graph metrics and
// boosts those that co-change with the anchor files.
func (r *run) graphExpansion(ctx context.Context) {
	input := r.candidates.Len()
	r.tracker.Start(stage.GraphExpansion, input)
	if input == 0 {
		r.tracker.Finish(ctx, stage.GraphExpansion, stage.FinishOptions{})
		return
	}
	if !r.caps.GraphMetrics {
		r.gap(stage.GraphExpansion, stage.SeverityMinor, "graph metrics unavailable",
			"Compute graph metrics to enable community and neighbor expansion.")
		r.disclose(envelope.ReasonGraphUnavailable)
		r.tracker.Finish(ctx, stage.GraphExpansion, stage.FinishOptions{Output: input, Status: stage.StatusSkipped})
		return
	}

	idx, failures := graph.LoadMetrics(ctx, r.e.deps.Storage, graphEntityTypes)
	for _, et := range graphEntityTypes {
		if err, ok := failures[et]; ok {
			r.gap(stage.GraphExpansion, stage.SeverityMinor,
				fmt.Sprintf("graph metrics for %s entities failed to load: %v", et, err), "")
		}
	}
	if idx.Len() == 0 {
		r.gap(stage.GraphExpansion, stage.SeverityMinor, "graph metrics unavailable",
			"Compute graph metrics to enable community and neighbor expansion.")
		r.disclose(envelope.ReasonGraphUnavailable)
		r.tracker.Finish(ctx, stage.GraphExpansion, stage.FinishOptions{Output: input, Status: stage.StatusSkipped})
		return
	}

	now := r.e.now()
	stats := graph.Expand(idx, r.candidates, graph.ExpandOptions{
		Depth:         r.q.Depth,
		SeedCount:     r.e.config.Graph.SeedCount,
		NeighborFloor: r.e.config.Graph.NeighborSimilarityFloor,
		Describe:      func(c *scoring.Candidate) { r.describe(ctx, c, now) },
	})
	r.e.logger.Debug("Graph expansion", map[string]interface{}{
		"seeds":     stats.Seeds,
		"enriched":  stats.Enriched,
		"community": stats.Community,
		"neighbor":  stats.Neighbor,
		"added":     stats.Added(),
	})

	if r.caps.Cochange {
		pairs := graph.NewPairCache(r.e.deps.Storage)
		if _, err := graph.BoostCochange(ctx, pairs, r.anchors(), r.candidates.List()); err != nil {
			r.gap(stage.GraphExpansion, stage.SeverityMinor, "co-change lookup failed: "+err.Error(), "")
		}
	}

	r.tracker.Finish(ctx, stage.GraphExpansion, stage.FinishOptions{Output: r.candidates.Len()})
}

// anchors returns the files co-change is measured against: the affected
// files, or the related files of the direct packs.
func (r *run) anchors() []string {
	if len(r.q.AffectedFiles) > 0 {
		return r.q.SortedFiles()
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.direct {
		for _, f := range p.RelatedFiles {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (r *run) weights() scoring.Weights {
	s := r.e.config.Scoring
	return scoring.Weights{
		Semantic:   s.Semantic,
		PageRank:   s.PageRank,
		Centrality: s.Centrality,
		Confidence: s.Confidence,
		Recency:    s.Recency,
		Cochange:   s.Cochange,
	}
}

func (r *run) multiSignalScoring(ctx context.Context) {
	cands := r.candidates.List()
	r.tracker.Start(stage.MultiSignalScoring, len(cands))
	if len(cands) > 0 {
		if _, err := scoring.ApplyMultiSignal(ctx, r.e.deps.MultiSignal, r.q, cands, r.weights()); err != nil {
			r.gap(stage.MultiSignalScoring, stage.SeverityMinor,
				"multi-signal scorer failed, baseline used: "+err.Error(), "")
		}
	}
	r.tracker.Finish(ctx, stage.MultiSignalScoring, stage.FinishOptions{Output: len(cands)})
}

func (r *run) multiVectorScoring(ctx context.Context) {
	modules := 0
	for _, c := range r.candidates.List() {
		if c.EntityType == knowledge.EntityModule {
			modules++
		}
	}
	if r.e.deps.MultiVector == nil {
		modules = 0
	}

	r.tracker.Start(stage.MultiVectorScoring, modules)
	if modules == 0 {
		r.tracker.Finish(ctx, stage.MultiVectorScoring, stage.FinishOptions{})
		return
	}
	blended, err := scoring.ApplyMultiVector(ctx, r.e.deps.MultiVector, r.q, r.candidates.List(), r.e.config.Scoring.MultiVectorWeight)
	if err != nil {
		r.gap(stage.MultiVectorScoring, stage.SeverityMinor, "multi-vector scorer failed: "+err.Error(), "")
		// Candidates keep their multi-signal scores.
		blended = modules
	}
	r.tracker.Finish(ctx, stage.MultiVectorScoring, stage.FinishOptions{Output: blended})
}

// fallback runs a relaxed similarity search when retrieval produced nothing
// usable.
func (r *run) fallback(ctx context.Context) {
	if r.candidates.Len() > 0 || len(r.direct) > 0 || r.queryVec == nil {
		r.tracker.Start(stage.Fallback, 0)
		r.tracker.Finish(ctx, stage.Fallback, stage.FinishOptions{})
		return
	}

	r.tracker.Start(stage.Fallback, 1)
	added := r.search(ctx, stage.Fallback, knowledge.SimilarityOptions{
		TopK:          2 * topKByDepth[r.q.Depth],
		MinSimilarity: r.cfg.FallbackMinSimilarity,
	}, scoring.SourceFallback)
	if added > 0 {
		scoring.Baseline(r.candidates.List(), r.weights())
		r.disclose(envelope.ReasonFallbackUsed)
	}
	r.tracker.Finish(ctx, stage.Fallback, stage.FinishOptions{Output: added})
}

// scoredPack is a materialized pack with the retrieval score it inherited.
type scoredPack struct {
	pack   knowledge.ContextPack
	score  float64
	origin stage.Name
}

func toScored(packs []knowledge.ContextPack, origin stage.Name) []scoredPack {
	out := make([]scoredPack, 0, len(packs))
	for _, p := range packs {
		out = append(out, scoredPack{pack: p.Clone(), score: p.Confidence, origin: origin})
	}
	return out
}

// originFor maps a candidate source to the stage that produced it.
func originFor(src scoring.Source) stage.Name {
	switch src {
	case scoring.SourceCommunity, scoring.SourceNeighbor:
		return stage.GraphExpansion
	case scoring.SourceFallback:
		return stage.Fallback
	case scoring.SourceDirect:
		return stage.DirectPacks
	default:
		return stage.SemanticRetrieval
	}
}

// reranking materializes candidate packs, dedupes, ranks, reranks and
// calibrates them.
func (r *run) reranking(ctx context.Context) {
	maxPacks := r.cfg.MaxPacks
	if maxPacks <= 0 {
		maxPacks = 12
	}

	pool := toScored(r.direct, stage.DirectPacks)
	ranked := scoring.Rank(r.candidates.List())
	if len(ranked) > 2*maxPacks {
		ranked = ranked[:2*maxPacks]
	}
	failed := 0
	for _, c := range ranked {
		packs, err := r.e.deps.Storage.GetContextPacks(ctx, c.EntityID, knowledge.PackTypeFor(c.EntityType))
		if err != nil {
			failed++
			continue
		}
		for _, p := range packs {
			pool = append(pool, scoredPack{pack: p.Clone(), score: c.Score, origin: originFor(c.Source)})
		}
	}

	r.tracker.Start(stage.Reranking, len(pool))
	if failed > 0 {
		r.gap(stage.Reranking, stage.SeverityMinor,
			fmt.Sprintf("packs for %d candidates could not be loaded", failed), "")
	}

	packs := r.rankPacks(pool)
	filtered := len(pool) - len(packs)
	if len(packs) > maxPacks {
		filtered += len(packs) - maxPacks
		r.truncation = &knowledge.Truncation{Shown: maxPacks, Total: len(packs), Reason: "max_packs"}
		packs = packs[:maxPacks]
	}

	ok, reason := rerank.Eligible(r.q, len(packs), rerank.Options{
		Enabled:       r.cfg.RerankEnabled && r.e.deps.Reranker != nil,
		Deterministic: r.deterministic,
	})
	if ok {
		reordered, gap := rerank.Apply(ctx, r.e.deps.Reranker, r.q, packs)
		if gap != nil {
			r.addGap(*gap)
			r.disclose(envelope.ReasonRerankRejected)
			r.evidence = append(r.evidence, knowledge.EvidenceEntry{
				Kind:    "rerank_rejected",
				Subject: r.cacheKey,
				Detail:  gap.Message,
			})
		}
		packs = reordered
	} else {
		r.e.logger.Debug("Rerank skipped", map[string]interface{}{"reason": reason})
	}

	r.packs = packs
	r.tracker.Finish(ctx, stage.Reranking, stage.FinishOptions{Output: len(packs), Filtered: filtered})
}

// rankPacks dedupes by pack id keeping the best-scored copy, calibrates
// confidences, drops packs below the query's minimum confidence and sorts.
func (r *run) rankPacks(pool []scoredPack) []knowledge.ContextPack {
	best := make(map[string]int, len(pool))
	var unique []scoredPack
	for _, sp := range pool {
		if i, ok := best[sp.pack.PackID]; ok {
			if sp.score > unique[i].score {
				unique[i] = sp
			}
			continue
		}
		best[sp.pack.PackID] = len(unique)
		unique = append(unique, sp)
	}

	weight := r.cfg.CalibrationWeight
	floor := r.cfg.PackConfidenceFloor
	kept := unique[:0]
	for _, sp := range unique {
		sp.pack.Confidence = calibrate(sp.pack.Confidence, sp.score, weight, floor)
		if sp.pack.Confidence < r.q.MinConfidence {
			continue
		}
		kept = append(kept, sp)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		if kept[i].pack.Confidence != kept[j].pack.Confidence {
			return kept[i].pack.Confidence > kept[j].pack.Confidence
		}
		return kept[i].pack.PackID < kept[j].pack.PackID
	})

	packs := make([]knowledge.ContextPack, 0, len(kept))
	for _, sp := range kept {
		packs = append(packs, sp.pack)
		if _, ok := r.origins[sp.pack.PackID]; !ok {
			r.origins[sp.pack.PackID] = sp.origin
		}
	}
	return packs
}

// calibrate pulls a pack confidence toward its retrieval score, never below
// the original confidence, and clamps it to [floor, 1].
func calibrate(confidence, score, weight, floor float64) float64 {
	if math.IsNaN(confidence) {
		confidence = floor
	}
	adjusted := confidence
	if !math.IsNaN(score) {
		adjusted = confidence + weight*(score-confidence)
	}
	return math.Max(floor, math.Min(1, math.Max(confidence, adjusted)))
}

// defeaterCheck drops packs defeated by the rule set, then applies staleness
// decay to the survivors.
func (r *run) defeaterCheck(ctx context.Context) {
	r.tracker.Start(stage.DefeaterCheck, len(r.packs))
	if len(r.packs) == 0 {
		r.tracker.Finish(ctx, stage.DefeaterCheck, stage.FinishOptions{})
		return
	}

	checker := r.e.deps.Defeater
	if checker == nil {
		checker = defeater.NewRuleChecker(r.e.deps.Storage)
	}
	floor := r.cfg.PackConfidenceFloor
	out := defeater.Run(ctx, checker, r.packs, defeater.Options{
		BatchSize: r.e.config.Defeater.BatchSize,
		Floor:     floor,
	})
	for _, g := range out.Gaps {
		r.addGap(g)
	}
	if out.Failed > 0 {
		r.disclose(envelope.ReasonDefeaterFailed)
	}

	kept := make(map[string]bool, len(out.Kept))
	for _, p := range out.Kept {
		kept[p.PackID] = true
	}
	for _, p := range r.packs {
		if !kept[p.PackID] {
			r.evidence = append(r.evidence, knowledge.EvidenceEntry{
				Kind:    "defeated_pack",
				Subject: p.PackID,
				Detail:  fmt.Sprintf("dropped by defeater check for query %q", r.q.Intent),
			})
		}
	}

	r.packs = r.e.deps.Decay.Decay(out.Kept, r.e.now(), floor)
	r.tracker.Finish(ctx, stage.DefeaterCheck, stage.FinishOptions{
		Output:   len(r.packs),
		Filtered: out.Invalidated + out.Failed,
	})
}

// methodGuidance lets enrichers attach key facts and disclosures.
func (r *run) methodGuidance(ctx context.Context) {
	enrichers := r.e.deps.Enrichers
	if len(r.packs) == 0 {
		enrichers = nil
	}
	r.tracker.Start(stage.MethodGuidance, len(enrichers))

	succeeded := 0
	for _, en := range enrichers {
		g, err := runEnricher(ctx, en, r.q, r.packs)
		if err != nil {
			r.gap(stage.MethodGuidance, stage.SeverityMinor, fmt.Sprintf("enricher %s failed: %v", en.Name(), err), "")
			r.disclose(envelope.ReasonEnrichmentSkipped)
			continue
		}
		applyGuidance(r.packs, g)
		r.disclosures = envelope.AppendUnique(r.disclosures, g.Disclosures...)
		succeeded++
	}
	r.tracker.Finish(ctx, stage.MethodGuidance, stage.FinishOptions{Output: succeeded})
}

// synthesize asks the LLM for an answer. Failure is a gap unless synthesis
// was required.
func (r *run) synthesize(ctx context.Context) error {
	reason := ""
	switch {
	case r.q.LLMRequirement == knowledge.LLMDisabled:
		reason = "synthesis disabled by query"
	case r.deterministic:
		reason = "deterministic mode"
	case !r.cfg.SynthesisEnabled:
		reason = "synthesis disabled"
	case r.e.deps.Synthesizer == nil:
		reason = "no LLM provider configured"
	case len(r.packs) == 0:
		reason = "no packs to synthesize from"
	}
	if reason != "" {
		res := synthesis.Unavailable(reason)
		r.synthesis = &res
		r.tracker.Start(stage.Synthesis, 0)
		r.tracker.Finish(ctx, stage.Synthesis, stage.FinishOptions{})
		return nil
	}

	r.tracker.Start(stage.Synthesis, len(r.packs))
	res, err := safeSynthesize(ctx, r.e.deps.Synthesizer, r.q, r.packs)
	if err != nil {
		if r.q.LLMRequirement == knowledge.LLMRequired {
			r.tracker.Issue(stage.Synthesis, stage.Issue{Message: err.Error(), Severity: stage.SeveritySignificant})
			r.tracker.Finish(ctx, stage.Synthesis, stage.FinishOptions{})
			return errors.New(errors.ProviderUnavailable, "required LLM synthesis failed", err)
		}
		r.gap(stage.Synthesis, stage.SeverityModerate, "synthesis failed: "+err.Error(),
			"Check the LLM provider configuration and availability.")
		r.disclose(envelope.ReasonSynthesisMissing)
		res = synthesis.Unavailable("synthesis failed")
		r.synthesis = &res
		r.tracker.Finish(ctx, stage.Synthesis, stage.FinishOptions{})
		return nil
	}

	r.synthesis = &res
	if !res.Available {
		r.gap(stage.Synthesis, stage.SeverityMinor, "synthesis unavailable: "+res.Reason, "")
		r.disclose(envelope.ReasonSynthesisMissing)
		r.tracker.Finish(ctx, stage.Synthesis, stage.FinishOptions{})
		return nil
	}
	r.tracker.Finish(ctx, stage.Synthesis, stage.FinishOptions{Output: 1})
	return nil
}

func safeSynthesize(ctx context.Context, s synthesis.Synthesizer, q knowledge.Query, packs []knowledge.ContextPack) (res knowledge.SynthesisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesizer panicked: %v", r)
		}
	}()
	return s.Synthesize(ctx, q, knowledge.ClonePacks(packs))
}
