// Package analysis defines the structured transcript analysis produced
// by the model and the validator that gates raw model output before it
// is trusted by anything downstream.
package analysis

// RiskFlag is the binary safeguarding indicator on an analysis.
type RiskFlag string

const (
	RiskFlagSafe RiskFlag = "SAFE"
	RiskFlagRisk RiskFlag = "RISK"
)

// RiskType classifies the nature of a flagged passage.
type RiskType string

const (
	RiskTypeSelfHarm     RiskType = "self_harm"
	RiskTypeCrisis       RiskType = "crisis"
	RiskTypeAbuse        RiskType = "abuse"
	RiskTypeSafeguarding RiskType = "safeguarding"
	RiskTypeOther        RiskType = "other"
)

// RiskSeverity grades how urgent a flagged passage is.
type RiskSeverity string

const (
	SeverityLow      RiskSeverity = "low"
	SeverityMedium   RiskSeverity = "medium"
	SeverityHigh     RiskSeverity = "high"
	SeverityCritical RiskSeverity = "critical"
)

// RiskDetail records one safeguarding-relevant passage with the exact
// quote and the action the supervisor should take.
type RiskDetail struct {
	Type              RiskType     `json:"type"`
	Severity          RiskSeverity `json:"severity"`
	Quote             string       `json:"quote"`
	Context           string       `json:"context"`
	RecommendedAction string       `json:"recommendedAction"`
}

// DimensionScore is a 0-10 score on one quality dimension, backed by a
// justification and transcript evidence.
type DimensionScore struct {
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
	Evidence      string  `json:"evidence"`
}

// ConceptScore extends DimensionScore with whether the assigned concept
// was actually taught.
type ConceptScore struct {
	Score         float64 `json:"score"`
	ConceptTaught bool    `json:"conceptTaught"`
	ConceptName   string  `json:"conceptName"`
	Evidence      string  `json:"evidence"`
	Justification string  `json:"justification"`
}

// StructuredAnalysis is the validated output of one analysis attempt.
// Instances are created by the validator or the mock analyzer and never
// mutated afterwards; re-analysis supersedes rather than edits.
type StructuredAnalysis struct {
	Summary               string         `json:"summary"`
	ConceptAdherence      ConceptScore   `json:"conceptAdherence"`
	ParticipantEngagement DimensionScore `json:"participantEngagement"`
	SafetyProtocol        DimensionScore `json:"safetyProtocol"`
	TherapeuticAlliance   DimensionScore `json:"therapeuticAlliance"`
	RiskFlag              RiskFlag       `json:"riskFlag"`
	RiskDetails           []RiskDetail   `json:"riskDetails"`
	OverallQualityScore   float64        `json:"overallQualityScore"`
	ConfidenceScore       float64        `json:"confidenceScore"`
	KeyStrengths          []string       `json:"keyStrengths"`
	AreasForImprovement   []string       `json:"areasForImprovement"`
}
