// Package report renders a supervisor review report for a finished
// batch: a markdown summary of every session's outcome, optionally
// rendered to HTML for the dashboard.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tiercare/sessionqa/internal/analysis"
	"github.com/tiercare/sessionqa/internal/policy"
	"github.com/tiercare/sessionqa/internal/store"
)

// Builder assembles batch reports from the store.
type Builder struct {
	store      *store.Store
	thresholds policy.Thresholds
	titler     cases.Caser
	renderer   goldmark.Markdown
}

// NewBuilder creates a report builder using the given escalation
// thresholds for confidence labels.
func NewBuilder(st *store.Store, thresholds policy.Thresholds) *Builder {
	return &Builder{
		store:      st,
		thresholds: thresholds,
		titler:     cases.Title(language.English),
		renderer:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Markdown builds the review report for a batch as GitHub-flavored
// markdown.
func (b *Builder) Markdown(ctx context.Context, batchID string) (string, error) {
	job, err := b.store.GetBatchJob(ctx, batchID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Batch Review Report\n\n")
	fmt.Fprintf(&sb, "**Batch:** `%s`  \n", job.ID)
	fmt.Fprintf(&sb, "**Status:** %s  \n", job.Status)
	fmt.Fprintf(&sb, "**Sessions:** %d total, %d processed, %d failed\n\n", job.Total, job.ProcessedCount, job.FailedCount)
	if job.StartedAt != nil && job.CompletedAt != nil {
		fmt.Fprintf(&sb, "Run time: %s\n\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}

	for _, sessionID := range job.SessionIDs {
		session, err := b.store.GetSession(ctx, sessionID)
		if err != nil {
			fmt.Fprintf(&sb, "## Session `%s`\n\nUnavailable: %v\n\n", sessionID, err)
			continue
		}
		b.writeSession(&sb, session)
	}

	if len(job.ErrorLog) > 0 {
		sb.WriteString("## Failures\n\n")
		sb.WriteString("| Session | Error | Time |\n|---|---|---|\n")
		for _, e := range job.ErrorLog {
			fmt.Fprintf(&sb, "| `%s` | %s | %s |\n", e.SessionID, e.ErrorMessage, e.Timestamp.Format(time.RFC3339))
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// HTML renders the markdown report to HTML.
func (b *Builder) HTML(ctx context.Context, batchID string) ([]byte, error) {
	md, err := b.Markdown(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := b.renderer.Convert([]byte(md), &buf); err != nil {
		return nil, fmt.Errorf("render report html: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Builder) writeSession(sb *strings.Builder, session *store.Session) {
	fmt.Fprintf(sb, "## %s — Session `%s`\n\n", b.titler.String(session.AssignedConcept), session.ID)
	fmt.Fprintf(sb, "- **Status:** %s\n", session.Status)

	if session.AnalysisJSON == "" {
		sb.WriteString("- No analysis available\n")
		if session.ErrorMessage != "" {
			fmt.Fprintf(sb, "- **Last error:** %s\n", session.ErrorMessage)
		}
		sb.WriteString("\n")
		return
	}

	var a analysis.StructuredAnalysis
	if err := json.Unmarshal([]byte(session.AnalysisJSON), &a); err != nil {
		fmt.Fprintf(sb, "- Stored analysis unreadable: %v\n\n", err)
		return
	}

	fmt.Fprintf(sb, "- **Confidence:** %.2f (%s)\n", a.ConfidenceScore, b.thresholds.Level(a.ConfidenceScore))
	fmt.Fprintf(sb, "- **Overall quality:** %.1f/10\n", a.OverallQualityScore)
	fmt.Fprintf(sb, "- **Risk flag:** %s\n", a.RiskFlag)
	if session.ReviewAction != "" {
		fmt.Fprintf(sb, "- **Supervisor review:** %s", session.ReviewAction)
		if session.ReviewedBy != "" {
			fmt.Fprintf(sb, " by %s", session.ReviewedBy)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	fmt.Fprintf(sb, "%s\n\n", a.Summary)

	if len(a.RiskDetails) > 0 {
		sb.WriteString("### Risk details\n\n")
		for _, d := range a.RiskDetails {
			fmt.Fprintf(sb, "- **%s / %s** — %q\n", d.Type, d.Severity, d.Quote)
			fmt.Fprintf(sb, "  - Context: %s\n", d.Context)
			fmt.Fprintf(sb, "  - Recommended action: %s\n", d.RecommendedAction)
		}
		sb.WriteString("\n")
	}

	if len(a.KeyStrengths) > 0 {
		sb.WriteString("### Strengths\n\n")
		for _, s := range a.KeyStrengths {
			fmt.Fprintf(sb, "- %s\n", s)
		}
		sb.WriteString("\n")
	}
	if len(a.AreasForImprovement) > 0 {
		sb.WriteString("### Areas for improvement\n\n")
		for _, s := range a.AreasForImprovement {
			fmt.Fprintf(sb, "- %s\n", s)
		}
		sb.WriteString("\n")
	}
}
