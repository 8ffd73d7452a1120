package main

import (
	"os"

	"github.com/spf13/cobra"

	"ctxpack/internal/config"
	"ctxpack/internal/logging"
	"ctxpack/internal/version"
)

var (
	// repoFlag is the CLI --repo flag value
	repoFlag string
	// logLevelFlag is the CLI --log-level flag value
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "ctxpack",
	Short: "ctxpack - context packs for code questions",
	Long: `ctxpack answers questions about a codebase with ranked, confidence-calibrated
context packs drawn from a pre-built knowledge index. Every response reports
what each pipeline stage did and where its coverage is thin.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("ctxpack version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "",
		"Repository root holding the .ctxpack directory (default: working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn or error (default: from config)")
}

// resolveRepoRoot determines the repository root.
// Precedence: --repo flag > CTXPACK_REPO env var > working directory
func resolveRepoRoot() (string, error) {
	if repoFlag != "" {
		return repoFlag, nil
	}
	if env := os.Getenv("CTXPACK_REPO"); env != "" {
		return env, nil
	}
	return os.Getwd()
}

// newLogger creates a logger for the output format. Logs go to stderr so they
// never mix with command output.
func newLogger(format string, cfg *config.Config) *logging.Logger {
	logFormat := logging.HumanFormat
	if format == string(FormatJSON) {
		logFormat = logging.JSONFormat
	}
	level := logging.InfoLevel
	if cfg != nil && cfg.Logging.Level != "" {
		level = logging.LogLevel(cfg.Logging.Level)
	}
	if logLevelFlag != "" {
		level = logging.LogLevel(logLevelFlag)
	}
	return logging.NewLogger(logging.Config{
		Format: logFormat,
		Level:  level,
		Output: os.Stderr,
	})
}
