// Package policy holds the pure escalation rules that decide whether an
// AI analysis can stand on its own or must be routed to a human
// supervisor. Thresholds come from configuration; the functions here are
// deterministic and side-effect free.
package policy

import "github.com/tiercare/sessionqa/internal/analysis"

// Status is the lifecycle state of a therapy session record.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusProcessed        Status = "processed"
	StatusFlaggedForReview Status = "flagged_for_review"
	StatusSafe             Status = "safe"
	StatusRisk             Status = "risk"
)

// ConfidenceLevel buckets a model-reported confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "high"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceVeryLow ConfidenceLevel = "very_low"
)

// Default threshold values. These are the single source of truth —
// DefaultThresholds references them and no other code should duplicate
// them.
const (
	DefaultHighThreshold       = 0.75
	DefaultMediumThreshold     = 0.55
	DefaultLowThreshold        = 0.40
	DefaultAutoReviewThreshold = 0.60

	// Analyses scoring below this overall quality are always escalated.
	minAcceptableQuality = 3.0
)

// Thresholds holds the configurable confidence cut points.
type Thresholds struct {
	High       float64 `yaml:"high" mapstructure:"high"`
	Medium     float64 `yaml:"medium" mapstructure:"medium"`
	Low        float64 `yaml:"low" mapstructure:"low"`
	AutoReview float64 `yaml:"auto_review" mapstructure:"auto_review"`
}

// DefaultThresholds returns the standard confidence cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		High:       DefaultHighThreshold,
		Medium:     DefaultMediumThreshold,
		Low:        DefaultLowThreshold,
		AutoReview: DefaultAutoReviewThreshold,
	}
}

// Level buckets a confidence score using the receiver's cut points.
func (t Thresholds) Level(score float64) ConfidenceLevel {
	switch {
	case score >= t.High:
		return ConfidenceHigh
	case score >= t.Medium:
		return ConfidenceMedium
	case score >= t.Low:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// RequiresHumanReview reports whether the analysis must be reviewed by a
// supervisor before its findings are trusted. Any single trigger
// escalates; all three conditions are evaluated so no trigger masks
// another.
func (t Thresholds) RequiresHumanReview(a *analysis.StructuredAnalysis) bool {
	risky := a.RiskFlag == analysis.RiskFlagRisk
	uncertain := a.ConfidenceScore < t.AutoReview
	lowQuality := a.OverallQualityScore < minAcceptableQuality
	return risky || uncertain || lowQuality
}

// DeriveStatus maps an analysis to the session status that should be
// persisted: RISK always wins, otherwise escalation yields
// flagged_for_review, otherwise the session is safe.
func (t Thresholds) DeriveStatus(a *analysis.StructuredAnalysis) Status {
	if a.RiskFlag == analysis.RiskFlagRisk {
		return StatusRisk
	}
	if t.RequiresHumanReview(a) {
		return StatusFlaggedForReview
	}
	return StatusSafe
}
