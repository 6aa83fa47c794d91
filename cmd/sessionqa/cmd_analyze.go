package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiercare/sessionqa/internal/analysis"
)

func newAnalyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <session-id>",
		Short: "Analyze one session transcript",
		Long: `Analyze a single session. Returns the cached or previously stored
analysis when one exists; otherwise claims the session, invokes the
model, and persists the derived status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			sessionID := args[0]
			result, err := app.processor.AnalyzeSession(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("analyze session %s: %w", sessionID, err)
			}

			session, err := app.store.GetSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !stdoutIsTTY() {
				return printJSON(out, map[string]any{
					"sessionId": sessionID,
					"status":    session.Status,
					"analysis":  result,
				})
			}

			t := newTable(out, "Field", "Value")
			t.AppendRow([]any{"Session", sessionID})
			t.AppendRow([]any{"Status", string(session.Status)})
			t.AppendRow([]any{"Risk flag", string(result.RiskFlag)})
			t.AppendRow([]any{"Confidence", fmt.Sprintf("%.2f (%s)", result.ConfidenceScore, app.cfg.Thresholds.Level(result.ConfidenceScore))})
			t.AppendRow([]any{"Overall quality", fmt.Sprintf("%.1f/10", result.OverallQualityScore)})
			t.AppendRow([]any{"Concept", result.ConceptAdherence.ConceptName})
			t.AppendRow([]any{"Strengths", strings.Join(result.KeyStrengths, "; ")})
			t.AppendRow([]any{"Improvements", strings.Join(result.AreasForImprovement, "; ")})
			t.Render()

			fmt.Fprintf(out, "\n%s\n", result.Summary)
			printRiskDetails(cmd, result.RiskDetails)
			return nil
		},
	}
}

func printRiskDetails(cmd *cobra.Command, details []analysis.RiskDetail) {
	if len(details) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nRISK DETAILS — requires supervisor attention:")
	for _, d := range details {
		fmt.Fprintf(out, "  [%s/%s] %q\n", d.Type, d.Severity, d.Quote)
		fmt.Fprintf(out, "    Action: %s\n", d.RecommendedAction)
	}
}
