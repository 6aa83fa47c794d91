package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiercare/sessionqa/internal/cache"
	"github.com/tiercare/sessionqa/internal/store"
)

func newReviewCommand() *cobra.Command {
	var supervisorID, action, notes string

	cmd := &cobra.Command{
		Use:   "review <session-id>",
		Short: "Record a supervisor's decision about an analysis",
		Long: `Record a supervisor review for an analyzed session. Actions:

  validated        agree with the AI's derived status
  rejected         discard the analysis and return the session to pending
  overridden_safe  override the verdict to safe
  overridden_risk  override the verdict to risk

Every decision is appended to the audit log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			ctx := cmd.Context()
			sessionID := args[0]
			session, err := app.store.RecordReview(ctx, sessionID, supervisorID, store.ReviewAction(action), notes)
			if err != nil {
				return err
			}

			// The stored verdict may have changed; drop derived entries.
			app.cache.Delete(ctx, cache.AnalysisKey(sessionID), cache.SupervisorSessionsKey(session.SupervisorID))
			app.cache.DeletePattern(ctx, cache.SessionListPattern(session.SupervisorID))

			out := cmd.OutOrStdout()
			if !stdoutIsTTY() {
				return printJSON(out, map[string]any{
					"sessionId": session.ID,
					"status":    session.Status,
					"action":    session.ReviewAction,
					"reviewer":  session.ReviewedBy,
				})
			}
			fmt.Fprintf(out, "Session %s reviewed (%s); status is now %s\n", session.ID, session.ReviewAction, session.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&supervisorID, "supervisor", "", "Reviewing supervisor")
	cmd.Flags().StringVar(&action, "action", "", "Review action (validated|rejected|overridden_safe|overridden_risk)")
	cmd.Flags().StringVar(&notes, "notes", "", "Optional review notes")
	_ = cmd.MarkFlagRequired("supervisor")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
