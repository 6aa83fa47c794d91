package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiercare/sessionqa/internal/analysis"
	"github.com/tiercare/sessionqa/internal/policy"
)

const safeTranscript = `Fellow: Welcome back everyone, today we are covering active listening.
Participant 1: I practiced with my sister like you suggested.
Fellow: That is wonderful, how did it go?`

const riskTranscript = `Fellow: Let us start with our check-in, how is everyone feeling?
Participant 2: Honestly I think everyone would be better if I wasn't here.
Fellow: Thank you for trusting us with that. Let us talk after the session.`

func TestMockAnalyzerSafeTranscript(t *testing.T) {
	m := NewMockAnalyzer(0)

	result, err := m.Analyze(context.Background(), Request{
		SessionID:  "s1",
		Transcript: safeTranscript,
		Concept:    "active listening",
	})
	require.NoError(t, err)
	require.Equal(t, analysis.RiskFlagSafe, result.RiskFlag)
	require.Empty(t, result.RiskDetails)
	require.Contains(t, result.Summary, "active listening")

	// The fabricated analysis must satisfy the same gate as real model
	// output.
	require.NoError(t, analysis.ValidateAnalysis(result))

	thresholds := policy.DefaultThresholds()
	require.Equal(t, policy.StatusSafe, thresholds.DeriveStatus(result))
}

func TestMockAnalyzerFlagsRiskPhrases(t *testing.T) {
	m := NewMockAnalyzer(0)

	result, err := m.Analyze(context.Background(), Request{
		SessionID:  "s2",
		Transcript: riskTranscript,
		Concept:    "emotional regulation",
	})
	require.NoError(t, err)
	require.Equal(t, analysis.RiskFlagRisk, result.RiskFlag)
	require.NotEmpty(t, result.RiskDetails)
	require.Equal(t, analysis.RiskTypeSelfHarm, result.RiskDetails[0].Type)
	require.Equal(t, analysis.SeverityHigh, result.RiskDetails[0].Severity)

	// The quote is lifted from the transcript line containing the
	// trigger phrase.
	require.Contains(t, result.RiskDetails[0].Quote, "better if I wasn't here")
	require.NoError(t, analysis.ValidateAnalysis(result))

	thresholds := policy.DefaultThresholds()
	require.Equal(t, policy.StatusRisk, thresholds.DeriveStatus(result))
}

func TestMockAnalyzerIsDeterministic(t *testing.T) {
	m := NewMockAnalyzer(0)
	req := Request{SessionID: "s3", Transcript: riskTranscript, Concept: "emotional regulation"}

	first, err := m.Analyze(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMockAnalyzerPhraseVariants(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       analysis.RiskFlag
	}{
		{"hurt myself", "Participant: sometimes I want to hurt myself.", analysis.RiskFlagRisk},
		{"thinking about ending", "Participant: I keep thinking about ending it all.", analysis.RiskFlagRisk},
		{"case insensitive", "Participant: BETTER IF I WASN'T HERE", analysis.RiskFlagRisk},
		{"benign mention", "Fellow: today we discuss how exercise helps our mood.", analysis.RiskFlagSafe},
	}

	m := NewMockAnalyzer(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := m.Analyze(context.Background(), Request{
				SessionID:  "s4",
				Transcript: tt.transcript,
				Concept:    "self-care",
			})
			require.NoError(t, err)
			require.Equal(t, tt.want, result.RiskFlag)
		})
	}
}

func TestMockAnalyzerMultibyteTranscripts(t *testing.T) {
	m := NewMockAnalyzer(0)

	t.Run("length-changing runes before the trigger line", func(t *testing.T) {
		// "Ⱥ" grows from 2 to 3 bytes under ToLower, so byte offsets in
		// a lowered copy diverge from the original transcript.
		transcript := strings.Repeat("Ⱥ", 40) + "\nParticipant: better if I wasn't here."
		result, err := m.Analyze(context.Background(), Request{
			SessionID:  "s6",
			Transcript: transcript,
			Concept:    "self-care",
		})
		require.NoError(t, err)
		require.Equal(t, analysis.RiskFlagRisk, result.RiskFlag)
		require.Equal(t, "Participant: better if I wasn't here.", result.RiskDetails[0].Quote)
	})

	t.Run("quote keeps the original casing", func(t *testing.T) {
		transcript := "Fellow: ÇA VA?\nParticipant: Ⱥrgh... BETTER IF I WASN'T HERE."
		result, err := m.Analyze(context.Background(), Request{
			SessionID:  "s7",
			Transcript: transcript,
			Concept:    "self-care",
		})
		require.NoError(t, err)
		require.Equal(t, analysis.RiskFlagRisk, result.RiskFlag)
		require.Equal(t, "Participant: Ⱥrgh... BETTER IF I WASN'T HERE.", result.RiskDetails[0].Quote)
	})
}

func TestMockAnalyzerRespectsCancellation(t *testing.T) {
	m := NewMockAnalyzer(DefaultMockDelay)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Analyze(ctx, Request{SessionID: "s5", Transcript: safeTranscript, Concept: "x"})
	require.ErrorIs(t, err, context.Canceled)
}
