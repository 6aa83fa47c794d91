package main

import (
	_ "embed"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tiercare/sessionqa/internal/cache"
	"github.com/tiercare/sessionqa/internal/store"
)

//go:embed seed.yaml
var seedData []byte

type seedFile struct {
	Sessions []struct {
		FellowID        string `yaml:"fellow_id"`
		SupervisorID    string `yaml:"supervisor_id"`
		GroupName       string `yaml:"group_name"`
		SessionDate     string `yaml:"session_date"`
		AssignedConcept string `yaml:"assigned_concept"`
		Transcript      string `yaml:"transcript"`
	} `yaml:"sessions"`
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the bundled sample sessions",
		Long: `Load the bundled sample transcripts into the database as pending
sessions. One transcript deliberately contains a safeguarding disclosure
so the risk path can be demonstrated end to end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			var seeds seedFile
			if err := yaml.Unmarshal(seedData, &seeds); err != nil {
				return fmt.Errorf("parse seed data: %w", err)
			}

			created := make([]*store.Session, 0, len(seeds.Sessions))
			for _, s := range seeds.Sessions {
				session, err := app.store.CreateSession(cmd.Context(), store.NewSession{
					FellowID:        s.FellowID,
					SupervisorID:    s.SupervisorID,
					GroupName:       s.GroupName,
					SessionDate:     s.SessionDate,
					AssignedConcept: s.AssignedConcept,
					Transcript:      s.Transcript,
				})
				if err != nil {
					return fmt.Errorf("seed session for %s: %w", s.FellowID, err)
				}
				created = append(created, session)
			}

			// New sessions change supervisor ownership sets and lists.
			for _, s := range created {
				app.cache.Delete(cmd.Context(), cache.SupervisorSessionsKey(s.SupervisorID))
				app.cache.DeletePattern(cmd.Context(), cache.SessionListPattern(s.SupervisorID))
			}

			out := cmd.OutOrStdout()
			if !stdoutIsTTY() {
				rows := make([]map[string]any, 0, len(created))
				for _, s := range created {
					rows = append(rows, map[string]any{
						"id":         s.ID,
						"fellowId":   s.FellowID,
						"supervisor": s.SupervisorID,
						"concept":    s.AssignedConcept,
						"words":      s.WordCount,
					})
				}
				return printJSON(out, rows)
			}

			t := newTable(out, "Session", "Fellow", "Supervisor", "Concept", "Words")
			for _, s := range created {
				t.AppendRow([]any{s.ID, s.FellowID, s.SupervisorID, s.AssignedConcept, s.WordCount})
			}
			t.Render()
			fmt.Fprintf(out, "Seeded %d sessions into %s\n", len(created), app.store.Path())
			return nil
		},
	}
}
