package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/storage"
	"ctxpack/internal/version"
)

var (
	statusFormat   string
	statusEpisodes int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index state, backend capabilities and recent queries",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (json, yaml, human)")
	statusCmd.Flags().IntVar(&statusEpisodes, "recent", 5, "Number of recent queries to show")
	rootCmd.AddCommand(statusCmd)
}

// StatusResponseCLI is the status command output
type StatusResponseCLI struct {
	Version        string                 `json:"version" yaml:"version"`
	DatabasePath   string                 `json:"databasePath" yaml:"databasePath"`
	Index          knowledge.IndexState   `json:"index" yaml:"index"`
	Capabilities   knowledge.Capabilities `json:"capabilities" yaml:"capabilities"`
	CachedQueries  int                    `json:"cachedQueries" yaml:"cachedQueries"`
	RecentEpisodes []knowledge.Episode    `json:"recentEpisodes" yaml:"recentEpisodes"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	repoRoot, err := resolveRepoRoot()
	if err != nil {
		return err
	}
	cfg := loadConfig(repoRoot)
	logger := newLogger(statusFormat, cfg)

	store, err := storage.OpenStore(repoRoot, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := newContext()
	defer cancel()

	state, err := store.GetIndexState(ctx)
	if err != nil {
		return fmt.Errorf("reading index state: %w", err)
	}
	episodes, err := store.RecentEpisodes(ctx, statusEpisodes)
	if err != nil {
		logger.Warn("Failed to read recent episodes", map[string]interface{}{
			"error": err.Error(),
		})
	}

	resp := &StatusResponseCLI{
		Version:        version.Info(),
		DatabasePath:   store.DB().Path(),
		Index:          state,
		Capabilities:   store.Capabilities(),
		CachedQueries:  store.CachedQueryCount(ctx),
		RecentEpisodes: episodes,
	}
	if resp.RecentEpisodes == nil {
		resp.RecentEpisodes = []knowledge.Episode{}
	}

	output, err := FormatResponse(resp, OutputFormat(statusFormat))
	if err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	fmt.Println(output)
	return nil
}
