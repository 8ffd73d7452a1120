package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ctxpack/internal/coverage"
	"ctxpack/internal/envelope"
	"ctxpack/internal/errors"
	"ctxpack/internal/knowledge"
	"ctxpack/internal/query"
	"ctxpack/internal/stage"
)

var (
	queryDepth         string
	queryFiles         []string
	queryTaskType      string
	queryMinConfidence float64
	queryLLM           string
	queryDeterministic bool
	queryNoCache       bool
	queryVerbose       bool
	queryFormat        string
)

var queryCmd = &cobra.Command{
	Use:   "query [intent]",
	Short: "Retrieve context packs for a question",
	Long: `Run the context pack pipeline for an intent and print the ranked packs
with confidence, coverage gaps and per-stage reports.

Depth controls how far retrieval reaches:
  L0  quick lookup, tightest search
  L1  default
  L2  wider search, enables reranking
  L3  widest search

Examples:
  ctxpack query "how are sessions refreshed"
  ctxpack query "what breaks if I change this" --files=internal/auth/session.go
  ctxpack query "payment retries" --depth=L2 --format=human
  ctxpack query --files=cmd/main.go --deterministic`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryDepth, "depth", "L1", "Retrieval depth (L0, L1, L2, L3)")
	queryCmd.Flags().StringSliceVar(&queryFiles, "files", nil, "Affected files (comma-separated)")
	queryCmd.Flags().StringVar(&queryTaskType, "task-type", "", "Task type: debug, refactor, feature or review")
	queryCmd.Flags().Float64Var(&queryMinConfidence, "min-confidence", 0, "Drop packs below this confidence")
	queryCmd.Flags().StringVar(&queryLLM, "llm", "optional", "LLM synthesis: required, optional or disabled")
	queryCmd.Flags().BoolVar(&queryDeterministic, "deterministic", false, "Disable synthesis and reranking and freeze timings")
	queryCmd.Flags().BoolVar(&queryNoCache, "no-cache", false, "Bypass the query cache")
	queryCmd.Flags().BoolVarP(&queryVerbose, "verbose", "v", false, "Print each stage report as it finishes")
	queryCmd.Flags().StringVar(&queryFormat, "format", "json", "Output format (json, yaml, human)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args)
	if err != nil {
		return err
	}

	repoRoot, err := resolveRepoRoot()
	if err != nil {
		return err
	}
	cfg := loadConfig(repoRoot)
	logger := newLogger(queryFormat, cfg)

	rt, err := openRuntime(repoRoot, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := newContext()
	defer cancel()

	opts := query.Options{
		Deterministic: queryDeterministic,
		NoCache:       queryNoCache,
	}
	if queryVerbose {
		opts.Observer = stage.ObserverFunc(func(r stage.Report) {
			fmt.Fprintf(os.Stderr, "stage %-22s %-8s %d -> %d (%dms)\n",
				r.Stage, r.Status, r.Results.Input, r.Results.Output, r.DurationMs)
		})
	}

	resp, err := rt.engine.Query(ctx, q, opts)
	if err != nil {
		return printQueryError(err)
	}

	output, err := FormatResponse(queryEnvelope(resp), OutputFormat(queryFormat))
	if err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	fmt.Println(output)

	logger.Debug("Query completed", map[string]interface{}{
		"packs":      len(resp.Packs),
		"confidence": resp.Confidence,
		"cacheHit":   resp.CacheHit,
		"latencyMs":  resp.LatencyMs,
	})
	return nil
}

// queryEnvelope wraps a pipeline response with index, cache and truncation
// metadata.
func queryEnvelope(resp *knowledge.Response) *envelope.Response {
	b := envelope.New().
		FromResponse(resp).
		WithIndexState(resp.IndexState, coverage.ReadinessCeiling(resp.IndexState)).
		WithCacheKey(resp.CacheKey)
	if t := resp.Truncation; t != nil {
		b = b.WithTruncation(true, t.Shown, t.Total, t.Reason)
	}
	return b.Build()
}

// buildQuery assembles the query from the positional intent and flags.
func buildQuery(args []string) (knowledge.Query, error) {
	q := knowledge.Query{
		Depth:          knowledge.Depth(strings.ToUpper(queryDepth)),
		AffectedFiles:  queryFiles,
		TaskType:       queryTaskType,
		MinConfidence:  queryMinConfidence,
		LLMRequirement: knowledge.LLMRequirement(strings.ToLower(queryLLM)),
	}
	if len(args) > 0 {
		q.Intent = args[0]
	}
	if !q.Depth.Valid() {
		return q, fmt.Errorf("invalid depth %q: use L0, L1, L2 or L3", queryDepth)
	}
	switch q.LLMRequirement {
	case knowledge.LLMRequired, knowledge.LLMOptional, knowledge.LLMDisabled:
	default:
		return q, fmt.Errorf("invalid --llm value %q: use required, optional or disabled", queryLLM)
	}
	return q, nil
}

// printQueryError writes a fatal pipeline error as an envelope so scripted
// callers can read the error code.
func printQueryError(err error) error {
	b := envelope.New().Error(err).WarningWithCode(string(errors.CodeOf(err)), err.Error())
	if output, ferr := FormatResponse(b.Build(), OutputFormat(queryFormat)); ferr == nil && queryFormat != string(FormatHuman) {
		fmt.Println(output)
	}
	return err
}
