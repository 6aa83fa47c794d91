package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessionqa",
		Short: "SessionQA - AI quality assurance for therapy session transcripts",
		Long: `SessionQA analyzes therapy session transcripts with an LLM, validates
the structured output against a strict schema, flags safeguarding risks,
and routes low-confidence or risky results to human supervisors.

Sessions are analyzed one at a time or in bounded concurrent batches;
results live in SQLite with an optional Redis read cache.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringArray("set", nil, "Override a config value (dotted.key=value); repeatable")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newSeedCommand())
	cmd.AddCommand(newAnalyzeCommand())
	cmd.AddCommand(newBatchCommand())
	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newReviewCommand())
	cmd.AddCommand(newReportCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
