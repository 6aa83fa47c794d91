package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiercare/sessionqa/internal/cache"
	"github.com/tiercare/sessionqa/internal/store"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded sessions",
	}
	cmd.AddCommand(newSessionsListCommand())
	return cmd
}

// sessionListPage is the cached shape of one supervisor list page.
type sessionListPage struct {
	Sessions []sessionListEntry `json:"sessions"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
}

type sessionListEntry struct {
	ID         string  `json:"id"`
	FellowID   string  `json:"fellowId"`
	Concept    string  `json:"concept"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence,omitempty"`
	WordCount  int     `json:"wordCount"`
	Date       string  `json:"date,omitempty"`
}

func newSessionsListCommand() *cobra.Command {
	var supervisorID string
	var page int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a supervisor's sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			ctx := cmd.Context()
			key := cache.SessionListKey(supervisorID, page)

			var listing sessionListPage
			if !app.cache.Get(ctx, key, &listing) {
				sessions, total, err := app.store.ListSessions(ctx, supervisorID, page, app.cfg.Storage.ListPageSize)
				if err != nil {
					return err
				}
				listing = sessionListPage{Total: total, Page: page}
				for _, s := range sessions {
					listing.Sessions = append(listing.Sessions, toListEntry(s))
				}
				app.cache.Set(ctx, key, &listing, cache.TTLSessionList)
			}

			out := cmd.OutOrStdout()
			if !stdoutIsTTY() {
				return printJSON(out, listing)
			}

			t := newTable(out, "Session", "Fellow", "Concept", "Status", "Confidence", "Words")
			for _, s := range listing.Sessions {
				confidence := "-"
				if s.Confidence > 0 {
					confidence = fmt.Sprintf("%.2f", s.Confidence)
				}
				t.AppendRow([]any{s.ID, s.FellowID, s.Concept, s.Status, confidence, s.WordCount})
			}
			t.Render()
			fmt.Fprintf(out, "Page %d, %d sessions total\n", page, listing.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&supervisorID, "supervisor", "", "Supervisor whose sessions to list")
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	_ = cmd.MarkFlagRequired("supervisor")
	return cmd
}

func toListEntry(s *store.Session) sessionListEntry {
	entry := sessionListEntry{
		ID:        s.ID,
		FellowID:  s.FellowID,
		Concept:   s.AssignedConcept,
		Status:    string(s.Status),
		WordCount: s.WordCount,
		Date:      s.SessionDate,
	}
	if s.ConfidenceScore != nil {
		entry.Confidence = *s.ConfidenceScore
	}
	return entry
}
