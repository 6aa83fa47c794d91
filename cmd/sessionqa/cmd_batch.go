package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiercare/sessionqa/internal/batch"
	"github.com/tiercare/sessionqa/internal/store"
)

func newBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit, run, and inspect batch analyses",
	}
	cmd.AddCommand(newBatchSubmitCommand())
	cmd.AddCommand(newBatchRunCommand())
	cmd.AddCommand(newBatchStatusCommand())
	return cmd
}

func newBatchSubmitCommand() *cobra.Command {
	var supervisorID string
	var sessionIDs []string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch of sessions for analysis",
		Long: fmt.Sprintf(`Submit sessions as one batch job, capped at %d by default
(batch.max_size). The job is created in the queued state; use
"batch run" to drive it.`, batch.MaxBatchSize),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			job, err := app.coordinator.Submit(cmd.Context(), supervisorID, sessionIDs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !stdoutIsTTY() {
				return printJSON(out, map[string]any{
					"batchId": job.ID,
					"status":  job.Status,
					"total":   job.Total,
				})
			}
			fmt.Fprintf(out, "Batch %s queued with %d sessions\n", job.ID, job.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&supervisorID, "supervisor", "", "Supervisor submitting the batch")
	cmd.Flags().StringSliceVar(&sessionIDs, "sessions", nil, "Session ids to analyze (comma separated)")
	_ = cmd.MarkFlagRequired("supervisor")
	_ = cmd.MarkFlagRequired("sessions")
	return cmd
}

func newBatchRunCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <batch-id>",
		Short: "Run a queued batch to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			ctx := cmd.Context()
			handle := app.coordinator.Start(ctx, args[0])

			waitCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			job, err := handle.Wait(waitCtx)
			if err != nil {
				return fmt.Errorf("batch %s: %w", handle.BatchID(), err)
			}

			out := cmd.OutOrStdout()
			if !stdoutIsTTY() {
				return printJSON(out, summarizeJob(job))
			}

			t := newTable(out, "Batch", "Status", "Total", "Processed", "Failed")
			t.AppendRow([]any{job.ID, string(job.Status), job.Total, job.ProcessedCount, job.FailedCount})
			t.Render()
			for _, e := range job.ErrorLog {
				fmt.Fprintf(out, "  failed %s: %s\n", e.SessionID, e.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (the batch still finishes)")
	return cmd
}

func newBatchStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show a batch's progress snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			snapshot, err := app.coordinator.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !stdoutIsTTY() {
				return printJSON(out, snapshot)
			}

			t := newTable(out, "Batch", "Status", "Total", "Processed", "Failed")
			t.AppendRow([]any{snapshot.ID, string(snapshot.Status), snapshot.Total, snapshot.ProcessedCount, snapshot.FailedCount})
			t.Render()
			return nil
		},
	}
}

func summarizeJob(job *store.BatchJob) map[string]any {
	return map[string]any{
		"batchId":        job.ID,
		"status":         job.Status,
		"total":          job.Total,
		"processedCount": job.ProcessedCount,
		"failedCount":    job.FailedCount,
		"errors":         job.ErrorLog,
	}
}
