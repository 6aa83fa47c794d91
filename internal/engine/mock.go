package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tiercare/sessionqa/internal/analysis"
)

// riskPhrases are the keyword heuristics the mock uses in place of the
// model's safeguarding scan.
var riskPhrases = []string{
	"better if I wasn't here",
	"want to hurt myself",
	"thinking about ending",
}

// MockAnalyzer deterministically synthesizes a schema-valid analysis
// from keyword detection, for environments without a model credential.
// The same transcript and concept always yield the same risk flag.
type MockAnalyzer struct {
	delay time.Duration
}

// NewMockAnalyzer creates a mock with the given artificial latency.
func NewMockAnalyzer(delay time.Duration) *MockAnalyzer {
	return &MockAnalyzer{delay: delay}
}

// Analyze never calls the model collaborator. It sleeps the configured
// delay to keep call sites honest about latency, then fabricates a
// plausible analysis, flagging RISK when a known crisis phrase appears
// in the transcript.
func (m *MockAnalyzer) Analyze(ctx context.Context, req Request) (*analysis.StructuredAnalysis, error) {
	if m.delay > 0 {
		if err := sleepCtx(ctx, m.delay); err != nil {
			return nil, err
		}
	}

	if quote, ok := findRiskQuote(req.Transcript); ok {
		return mockRiskAnalysis(req.Concept, quote), nil
	}
	return mockSafeAnalysis(req.Concept), nil
}

// findRiskQuote returns the transcript line containing the first
// matching risk phrase, so the mock's riskDetails quote the actual
// triggering text. Matching is case-insensitive per line; lowercasing
// can change a string's byte length, so indexes into a lowered copy
// must never be used to slice the original.
func findRiskQuote(transcript string) (string, bool) {
	for _, phrase := range riskPhrases {
		needle := strings.ToLower(phrase)
		for _, line := range strings.Split(transcript, "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				return strings.TrimSpace(line), true
			}
		}
	}
	return "", false
}

func mockRiskAnalysis(concept, quote string) *analysis.StructuredAnalysis {
	return &analysis.StructuredAnalysis{
		Summary: fmt.Sprintf("This session covered %s with engaged group participation. A critical moment occurred when a participant disclosed passive suicidal ideation and feelings of being a burden. The Fellow responded appropriately by directly assessing intent and referring to supervisor support.", concept),
		ConceptAdherence: analysis.ConceptScore{
			Score:         7.5,
			ConceptTaught: true,
			ConceptName:   concept,
			Evidence:      "Fellow introduced concept with research backing and provided practical exercises.",
			Justification: "Concept was taught comprehensively despite session interruption for crisis response.",
		},
		ParticipantEngagement: analysis.DimensionScore{
			Score:         8,
			Justification: "High engagement with meaningful personal disclosures.",
			Evidence:      "Multiple participants shared personal experiences and asked thoughtful questions.",
		},
		SafetyProtocol: analysis.DimensionScore{
			Score:         9,
			Justification: "Excellent crisis response - direct assessment, non-judgmental approach, immediate supervisor referral.",
			Evidence:      "Fellow directly asked about suicidal ideation, stayed with participant, followed safeguarding protocol.",
		},
		TherapeuticAlliance: analysis.DimensionScore{
			Score:         8.5,
			Justification: "Strong group cohesion evident in supportive responses to vulnerable sharing.",
			Evidence:      "Group members expressed empathy and solidarity with the participant in crisis.",
		},
		RiskFlag: analysis.RiskFlagRisk,
		RiskDetails: []analysis.RiskDetail{
			{
				Type:              analysis.RiskTypeSelfHarm,
				Severity:          analysis.SeverityHigh,
				Quote:             quote,
				Context:           "Participant disclosed this during check-in, expressing hopelessness and feelings of being a burden.",
				RecommendedAction: "Review Fellow's crisis response. Confirm participant was seen by clinical supervisor. Schedule follow-up assessment within 48 hours.",
			},
		},
		OverallQualityScore: 8,
		ConfidenceScore:     0.87,
		KeyStrengths: []string{
			"Excellent crisis intervention and de-escalation",
			"Direct and non-judgmental assessment of suicidal ideation",
			"Appropriate supervisor referral with same-day follow-through",
		},
		AreasForImprovement: []string{
			"Could have asked about other group members earlier in crisis moment",
			"Safety planning with participant could have been more explicit",
		},
	}
}

func mockSafeAnalysis(concept string) *analysis.StructuredAnalysis {
	return &analysis.StructuredAnalysis{
		Summary: fmt.Sprintf("This session effectively covered %s with clear pedagogical structure and strong participant engagement. The Fellow demonstrated good facilitation skills, using evidence-based examples and interactive exercises. Participants showed meaningful understanding of the concept by the end of the session.", concept),
		ConceptAdherence: analysis.ConceptScore{
			Score:         8.5,
			ConceptTaught: true,
			ConceptName:   concept,
			Evidence:      "Fellow introduced the concept with research backing, used concrete examples, and facilitated practical exercises.",
			Justification: "Concept was taught comprehensively with appropriate depth for the age group.",
		},
		ParticipantEngagement: analysis.DimensionScore{
			Score:         7.8,
			Justification: "Most participants actively contributed to discussions with meaningful personal sharing.",
			Evidence:      "Multiple check-in responses, voluntary sharing, and follow-up questions from participants.",
		},
		SafetyProtocol: analysis.DimensionScore{
			Score:         8.2,
			Justification: "Fellow followed all standard protocols, maintained safe space, and responded appropriately to participant emotions.",
			Evidence:      "Regular check-ins, non-judgmental responses, appropriate boundaries maintained throughout.",
		},
		TherapeuticAlliance: analysis.DimensionScore{
			Score:         8,
			Justification: "Strong rapport evident between Fellow and group; participants comfortable sharing personal experiences.",
			Evidence:      "Participants volunteered personal examples, expressed appreciation, showed trust.",
		},
		RiskFlag:            analysis.RiskFlagSafe,
		RiskDetails:         []analysis.RiskDetail{},
		OverallQualityScore: 8.1,
		ConfidenceScore:     0.82,
		KeyStrengths: []string{
			fmt.Sprintf("Clear and engaging teaching of %s", concept),
			"Effective use of evidence and practical examples",
			"Strong group facilitation with inclusive participation",
		},
		AreasForImprovement: []string{
			"Could dedicate more time to application and practice",
			"Follow-up questions could deepen individual reflection",
		},
	}
}
