package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	var asHTML bool
	var outPath string

	cmd := &cobra.Command{
		Use:   "report <batch-id>",
		Short: "Build a supervisor review report for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			var content []byte
			if asHTML {
				content, err = app.reports.HTML(cmd.Context(), args[0])
			} else {
				var md string
				md, err = app.reports.Markdown(cmd.Context(), args[0])
				content = []byte(md)
			}
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, content, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outPath)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}

	cmd.Flags().BoolVar(&asHTML, "html", false, "Render the report as HTML")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write the report to a file instead of stdout")
	return cmd
}
