package report

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tiercare/sessionqa/internal/analysis"
	"github.com/tiercare/sessionqa/internal/policy"
	"github.com/tiercare/sessionqa/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sessionqa.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})
	return st
}

func analyzedSession(t *testing.T, st *store.Store, status policy.Status, a *analysis.StructuredAnalysis) *store.Session {
	t.Helper()
	ctx := context.Background()
	session, err := st.CreateSession(ctx, store.NewSession{
		FellowID:        "fellow-1",
		SupervisorID:    "sup-1",
		AssignedConcept: "growth mindset",
		Transcript:      "Fellow: welcome everyone, let us begin today's session.",
	})
	require.NoError(t, err)
	require.NoError(t, st.TryMarkProcessing(ctx, session.ID))

	doc, err := json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, st.UpdateSessionResult(ctx, session.ID, status, string(doc), a.ConfidenceScore, time.Now().UTC()))
	return session
}

func sampleAnalysis() *analysis.StructuredAnalysis {
	return &analysis.StructuredAnalysis{
		Summary:             "The Fellow taught growth mindset with clear examples and the group engaged warmly throughout the full session.",
		RiskFlag:            analysis.RiskFlagSafe,
		RiskDetails:         []analysis.RiskDetail{},
		OverallQualityScore: 8.1,
		ConfidenceScore:     0.82,
		KeyStrengths:        []string{"Clear teaching", "Strong rapport"},
		AreasForImprovement: []string{"More practice time"},
	}
}

func TestMarkdownReport(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	safe := analyzedSession(t, st, policy.StatusSafe, sampleAnalysis())

	riskDoc := sampleAnalysis()
	riskDoc.RiskFlag = analysis.RiskFlagRisk
	riskDoc.RiskDetails = []analysis.RiskDetail{{
		Type:              analysis.RiskTypeSelfHarm,
		Severity:          analysis.SeverityHigh,
		Quote:             "better if I wasn't here",
		Context:           "said during check-in",
		RecommendedAction: "confirm supervisor follow-up within 48 hours",
	}}
	risky := analyzedSession(t, st, policy.StatusRisk, riskDoc)

	job, err := st.CreateBatchJob(ctx, "sup-1", []string{safe.ID, risky.ID})
	require.NoError(t, err)
	require.NoError(t, st.MarkBatchProcessing(ctx, job.ID))
	errorLog := []store.BatchError{{SessionID: "ghost", ErrorMessage: "model unavailable", Timestamp: time.Now().UTC()}}
	require.NoError(t, st.CompleteBatch(ctx, job.ID, store.BatchPartial, 2, 1, errorLog))

	builder := NewBuilder(st, policy.DefaultThresholds())
	md, err := builder.Markdown(ctx, job.ID)
	require.NoError(t, err)

	// Header and counters.
	require.Contains(t, md, "# Batch Review Report")
	require.Contains(t, md, job.ID)
	require.Contains(t, md, "2 processed, 1 failed")

	// Concept names are title-cased.
	require.Contains(t, md, "Growth Mindset")

	// Per-session detail.
	require.Contains(t, md, safe.ID)
	require.Contains(t, md, "0.82 (high)")
	require.Contains(t, md, "### Risk details")
	require.Contains(t, md, "better if I wasn't here")
	require.Contains(t, md, "confirm supervisor follow-up within 48 hours")
	require.Contains(t, md, "### Strengths")
	require.Contains(t, md, "Clear teaching")

	// Failure table.
	require.Contains(t, md, "## Failures")
	require.Contains(t, md, "model unavailable")
}

func TestMarkdownReportSessionWithoutAnalysis(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, err := st.CreateSession(ctx, store.NewSession{
		FellowID:        "fellow-1",
		SupervisorID:    "sup-1",
		AssignedConcept: "active listening",
		Transcript:      "Fellow: hello group, let us get started now.",
	})
	require.NoError(t, err)
	require.NoError(t, st.RevertToPending(ctx, session.ID, "model timed out"))

	job, err := st.CreateBatchJob(ctx, "sup-1", []string{session.ID})
	require.NoError(t, err)
	require.NoError(t, st.MarkBatchProcessing(ctx, job.ID))
	require.NoError(t, st.CompleteBatch(ctx, job.ID, store.BatchFailed, 0, 1, nil))

	builder := NewBuilder(st, policy.DefaultThresholds())
	md, err := builder.Markdown(ctx, job.ID)
	require.NoError(t, err)
	require.Contains(t, md, "No analysis available")
	require.Contains(t, md, "model timed out")
}

func TestHTMLReport(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session := analyzedSession(t, st, policy.StatusSafe, sampleAnalysis())
	job, err := st.CreateBatchJob(ctx, "sup-1", []string{session.ID})
	require.NoError(t, err)
	require.NoError(t, st.MarkBatchProcessing(ctx, job.ID))
	require.NoError(t, st.CompleteBatch(ctx, job.ID, store.BatchCompleted, 1, 0, nil))

	builder := NewBuilder(st, policy.DefaultThresholds())
	html, err := builder.HTML(ctx, job.ID)
	require.NoError(t, err)
	require.Contains(t, string(html), "<h1")
	require.Contains(t, string(html), "Batch Review Report")
	require.Contains(t, string(html), "<h2")
}

func TestReportUnknownBatch(t *testing.T) {
	builder := NewBuilder(newTestStore(t), policy.DefaultThresholds())
	_, err := builder.Markdown(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
