package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiercare/sessionqa/internal/analysis"
)

func TestLevel(t *testing.T) {
	thresholds := DefaultThresholds()

	tests := []struct {
		name  string
		score float64
		want  ConfidenceLevel
	}{
		{"well above high", 0.95, ConfidenceHigh},
		{"exactly high", 0.75, ConfidenceHigh},
		{"just below high", 0.7499, ConfidenceMedium},
		{"exactly medium", 0.55, ConfidenceMedium},
		{"just below medium", 0.5499, ConfidenceLow},
		{"exactly low", 0.40, ConfidenceLow},
		{"just below low", 0.3999, ConfidenceVeryLow},
		{"zero", 0, ConfidenceVeryLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, thresholds.Level(tt.score))
		})
	}
}

func TestLevelCustomThresholds(t *testing.T) {
	thresholds := Thresholds{High: 0.9, Medium: 0.6, Low: 0.3, AutoReview: 0.5}
	require.Equal(t, ConfidenceMedium, thresholds.Level(0.8))
	require.Equal(t, ConfidenceVeryLow, thresholds.Level(0.29))
}

func baseAnalysis() *analysis.StructuredAnalysis {
	return &analysis.StructuredAnalysis{
		RiskFlag:            analysis.RiskFlagSafe,
		OverallQualityScore: 8,
		ConfidenceScore:     0.9,
	}
}

func TestRequiresHumanReview(t *testing.T) {
	thresholds := DefaultThresholds()

	t.Run("confident safe high quality passes", func(t *testing.T) {
		require.False(t, thresholds.RequiresHumanReview(baseAnalysis()))
	})

	t.Run("risk flag alone escalates", func(t *testing.T) {
		a := baseAnalysis()
		a.RiskFlag = analysis.RiskFlagRisk
		require.True(t, thresholds.RequiresHumanReview(a))
	})

	t.Run("low confidence alone escalates", func(t *testing.T) {
		a := baseAnalysis()
		a.ConfidenceScore = 0.59
		require.True(t, thresholds.RequiresHumanReview(a))
	})

	t.Run("confidence at the auto-review cutoff passes", func(t *testing.T) {
		a := baseAnalysis()
		a.ConfidenceScore = 0.60
		require.False(t, thresholds.RequiresHumanReview(a))
	})

	t.Run("low quality alone escalates", func(t *testing.T) {
		a := baseAnalysis()
		a.OverallQualityScore = 2.9
		require.True(t, thresholds.RequiresHumanReview(a))
	})

	t.Run("all triggers together escalate", func(t *testing.T) {
		a := baseAnalysis()
		a.RiskFlag = analysis.RiskFlagRisk
		a.ConfidenceScore = 0.1
		a.OverallQualityScore = 1
		require.True(t, thresholds.RequiresHumanReview(a))
	})
}

func TestDeriveStatus(t *testing.T) {
	thresholds := DefaultThresholds()

	t.Run("risk flag always wins", func(t *testing.T) {
		a := baseAnalysis()
		a.RiskFlag = analysis.RiskFlagRisk
		a.ConfidenceScore = 0.99
		require.Equal(t, StatusRisk, thresholds.DeriveStatus(a))
	})

	t.Run("uncertain safe result is flagged", func(t *testing.T) {
		a := baseAnalysis()
		a.ConfidenceScore = 0.3
		require.Equal(t, StatusFlaggedForReview, thresholds.DeriveStatus(a))
	})

	t.Run("low quality safe result is flagged", func(t *testing.T) {
		a := baseAnalysis()
		a.OverallQualityScore = 2
		require.Equal(t, StatusFlaggedForReview, thresholds.DeriveStatus(a))
	})

	t.Run("confident safe result is safe", func(t *testing.T) {
		require.Equal(t, StatusSafe, thresholds.DeriveStatus(baseAnalysis()))
	})
}
