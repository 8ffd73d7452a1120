package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ctxpack/internal/cache"
	"ctxpack/internal/envelope"
	"ctxpack/internal/storage"
)

var cacheFormat string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the query cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Bound the persistent query cache by entry count and age",
	Long: `Remove persistent cache entries beyond the configured maximum entry count
and older than the configured maximum age.

Examples:
  ctxpack cache prune
  ctxpack cache prune --format=json`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

func init() {
	cachePruneCmd.Flags().StringVar(&cacheFormat, "format", "human", "Output format (json, yaml, human)")
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

// CachePruneResponseCLI is the cache prune output
type CachePruneResponseCLI struct {
	Removed   int `json:"removed" yaml:"removed"`
	Remaining int `json:"remaining" yaml:"remaining"`
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	repoRoot, err := resolveRepoRoot()
	if err != nil {
		return err
	}
	cfg := loadConfig(repoRoot)
	logger := newLogger(cacheFormat, cfg)

	store, err := storage.OpenStore(repoRoot, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := newContext()
	defer cancel()

	ccfg := cacheConfig(cfg.Cache)
	// An explicit prune always targets the persistent tier.
	ccfg.PersistentEnabled = true
	tiered := cache.New(ccfg, cache.WithStore(store), cache.WithLogger(logger))

	removed, err := tiered.Prune(ctx)
	if err != nil {
		return fmt.Errorf("pruning cache: %w", err)
	}
	resp := CachePruneResponseCLI{
		Removed:   removed,
		Remaining: store.CachedQueryCount(ctx),
	}

	if OutputFormat(cacheFormat) == FormatHuman {
		fmt.Printf("Removed %d cached queries, %d remain\n", resp.Removed, resp.Remaining)
		return nil
	}
	output, err := FormatResponse(envelope.Operational(resp), OutputFormat(cacheFormat))
	if err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	fmt.Println(output)
	return nil
}
