package store

import (
	"time"

	"github.com/tiercare/sessionqa/internal/policy"
)

// BatchStatus is the lifecycle state of a batch job. Terminal states
// are final; no job re-enters processing.
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchPartial    BatchStatus = "partial"
)

// Terminal reports whether the status admits no further transitions.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchPartial:
		return true
	}
	return false
}

// ReviewAction is a supervisor's recorded decision about an AI analysis.
type ReviewAction string

const (
	ReviewValidated      ReviewAction = "validated"
	ReviewRejected       ReviewAction = "rejected"
	ReviewOverriddenSafe ReviewAction = "overridden_safe"
	ReviewOverriddenRisk ReviewAction = "overridden_risk"
)

// Valid reports whether the action is one of the recognized decisions.
func (a ReviewAction) Valid() bool {
	switch a {
	case ReviewValidated, ReviewRejected, ReviewOverriddenSafe, ReviewOverriddenRisk:
		return true
	}
	return false
}

// Session is one recorded therapy session and its analysis state. The
// transcript is stored compressed; Session carries it decompressed.
type Session struct {
	ID              string
	FellowID        string
	SupervisorID    string
	GroupName       string
	SessionDate     string
	AssignedConcept string
	Transcript      string
	WordCount       int
	Status          policy.Status
	AnalysisJSON    string
	ConfidenceScore *float64
	ErrorMessage    string
	BatchID         string
	ProcessedAt     *time.Time
	ReviewAction    ReviewAction
	ReviewNotes     string
	ReviewedBy      string
	ReviewedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BatchError records one failed item inside a batch run.
type BatchError struct {
	SessionID    string    `json:"sessionId"`
	ErrorMessage string    `json:"errorMessage"`
	Timestamp    time.Time `json:"timestamp"`
}

// BatchJob is one batch submission and its progress counters.
// processedCount + failedCount never exceeds Total.
type BatchJob struct {
	ID             string
	SupervisorID   string
	Status         BatchStatus
	Total          int
	ProcessedCount int
	FailedCount    int
	SessionIDs     []string
	ErrorLog       []BatchError
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuditEntry is one row of the supervisor action trail.
type AuditEntry struct {
	ID           int64
	SessionID    string
	SupervisorID string
	Action       ReviewAction
	Notes        string
	CreatedAt    time.Time
}
