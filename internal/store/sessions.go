package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tiercare/sessionqa/internal/policy"
)

// NewSession carries the fields required to record a session.
type NewSession struct {
	FellowID        string
	SupervisorID    string
	GroupName       string
	SessionDate     string
	AssignedConcept string
	Transcript      string
}

// CreateSession inserts a pending session with a generated id, storing
// the transcript compressed and its word count alongside.
func (s *Store) CreateSession(ctx context.Context, in NewSession) (*Session, error) {
	if in.Transcript == "" {
		return nil, errors.New("transcript is required")
	}
	if in.AssignedConcept == "" {
		return nil, errors.New("assigned concept is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
            id, fellow_id, supervisor_id, group_name, session_date,
            assigned_concept, transcript, word_count, status,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		in.FellowID,
		in.SupervisorID,
		nullableString(in.GroupName),
		nullableString(in.SessionDate),
		in.AssignedConcept,
		compressTranscript(in.Transcript),
		countWords(in.Transcript),
		policy.StatusPending,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession fetches a session by id, returning ErrNotFound when it
// does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// TryMarkProcessing atomically claims a session for analysis. Only a
// session currently pending (or previously failed) can be claimed; a
// session already processing, or already holding a terminal status,
// yields ErrSessionBusy so concurrent triggers cannot double-process.
func (s *Store) TryMarkProcessing(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET status = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		policy.StatusProcessing,
		now,
		id,
		policy.StatusPending,
		"failed",
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("session %s: %w", id, ErrSessionBusy)
	}
	return nil
}

// RevertToPending returns a claimed session to the pending state after
// a failed analysis, recording the failure so the item stays retryable.
func (s *Store) RevertToPending(ctx context.Context, id, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		policy.StatusPending,
		nullableString(errorMessage),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("revert to pending: %w", err)
	}
	return nil
}

// UpdateSessionResult persists a completed analysis: derived status,
// the analysis document, the model's confidence, and the processing
// timestamp.
func (s *Store) UpdateSessionResult(ctx context.Context, id string, status policy.Status, analysisJSON string, confidence float64, processedAt time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, analysis_json = ?, confidence_score = ?,
             processed_at = ?, error_message = NULL, updated_at = ?
         WHERE id = ?`,
		status,
		analysisJSON,
		confidence,
		processedAt.UTC().Format(time.RFC3339Nano),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update session result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSessionStatus sets only the session's status.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status policy.Status) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AssignBatch tags sessions with the batch job that will process them.
func (s *Store) AssignBatch(ctx context.Context, batchID string, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	args := make([]any, 0, len(sessionIDs)+2)
	args = append(args, batchID, now)
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	query := `UPDATE sessions SET batch_id = ?, updated_at = ? WHERE id IN (` + makePlaceholders(len(sessionIDs)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("assign batch: %w", err)
	}
	return nil
}

// RecordReview stores a supervisor's decision about an analyzed session
// and appends the matching audit row in one transaction. Overrides move
// the session to the supervisor's verdict; a rejection clears the
// analysis and returns the session to pending for re-analysis.
func (s *Store) RecordReview(ctx context.Context, sessionID, supervisorID string, action ReviewAction, notes string) (*Session, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid review action %q", action)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin review tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	var (
		query string
		args  []any
	)
	switch action {
	case ReviewOverriddenSafe, ReviewOverriddenRisk:
		status := policy.StatusSafe
		if action == ReviewOverriddenRisk {
			status = policy.StatusRisk
		}
		query = `UPDATE sessions
            SET status = ?, review_action = ?, review_notes = ?, reviewed_by = ?,
                reviewed_at = ?, updated_at = ?
            WHERE id = ?`
		args = []any{status, action, nullableString(notes), supervisorID, now, now, sessionID}
	case ReviewRejected:
		query = `UPDATE sessions
            SET status = ?, analysis_json = NULL, confidence_score = NULL,
                processed_at = NULL, review_action = ?, review_notes = ?,
                reviewed_by = ?, reviewed_at = ?, updated_at = ?
            WHERE id = ?`
		args = []any{policy.StatusPending, action, nullableString(notes), supervisorID, now, now, sessionID}
	default: // ReviewValidated keeps the derived status.
		query = `UPDATE sessions
            SET review_action = ?, review_notes = ?, reviewed_by = ?,
                reviewed_at = ?, updated_at = ?
            WHERE id = ?`
		args = []any{action, nullableString(notes), supervisorID, now, now, sessionID}
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO audit_log (session_id, supervisor_id, action, notes, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		sessionID,
		supervisorID,
		action,
		nullableString(notes),
		now,
	); err != nil {
		return nil, fmt.Errorf("append audit row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit review: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// AuditTrail returns the recorded supervisor actions for a session,
// oldest first.
func (s *Store) AuditTrail(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, supervisor_id, action, notes, created_at
         FROM audit_log WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			entry AuditEntry
			notes sql.NullString
			raw   string
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.SupervisorID, &entry.Action, &notes, &raw); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		entry.Notes = notes.String
		if created, err := parseTimeString(raw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListSessions returns one page of a supervisor's sessions, newest
// first, along with the total count. Pages are 1-based.
func (s *Store) ListSessions(ctx context.Context, supervisorID string, page, perPage int) ([]*Session, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var total int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE supervisor_id = ?`, supervisorID)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions
         WHERE supervisor_id = ?
         ORDER BY created_at DESC, id
         LIMIT ? OFFSET ?`,
		supervisorID,
		perPage,
		(page-1)*perPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	return sessions, total, rows.Err()
}

// SessionIDsBySupervisor returns all session ids owned by a supervisor,
// oldest first.
func (s *Store) SessionIDsBySupervisor(ctx context.Context, supervisorID string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM sessions WHERE supervisor_id = ? ORDER BY created_at, id`,
		supervisorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const sessionColumns = "id, fellow_id, supervisor_id, group_name, session_date, assigned_concept, transcript, word_count, status, analysis_json, confidence_score, error_message, batch_id, processed_at, review_action, review_notes, reviewed_by, reviewed_at, created_at, updated_at"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id           string
		fellowID     string
		supervisorID string
		groupName    sql.NullString
		sessionDate  sql.NullString
		concept      string
		transcript   []byte
		wordCount    int
		statusStr    string
		analysisJSON sql.NullString
		confidence   sql.NullFloat64
		errorMessage sql.NullString
		batchID      sql.NullString
		processedRaw sql.NullString
		reviewAction sql.NullString
		reviewNotes  sql.NullString
		reviewedBy   sql.NullString
		reviewedRaw  sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fellowID,
		&supervisorID,
		&groupName,
		&sessionDate,
		&concept,
		&transcript,
		&wordCount,
		&statusStr,
		&analysisJSON,
		&confidence,
		&errorMessage,
		&batchID,
		&processedRaw,
		&reviewAction,
		&reviewNotes,
		&reviewedBy,
		&reviewedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	text, err := decompressTranscript(transcript)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	session := &Session{
		ID:              id,
		FellowID:        fellowID,
		SupervisorID:    supervisorID,
		GroupName:       groupName.String,
		SessionDate:     sessionDate.String,
		AssignedConcept: concept,
		Transcript:      text,
		WordCount:       wordCount,
		Status:          policy.Status(statusStr),
		AnalysisJSON:    analysisJSON.String,
		ErrorMessage:    errorMessage.String,
		BatchID:         batchID.String,
		ReviewAction:    ReviewAction(reviewAction.String),
		ReviewNotes:     reviewNotes.String,
		ReviewedBy:      reviewedBy.String,
	}
	if confidence.Valid {
		v := confidence.Float64
		session.ConfidenceScore = &v
	}
	session.ProcessedAt = timePtr(processedRaw)
	session.ReviewedAt = timePtr(reviewedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		session.UpdatedAt = updated
	}
	return session, nil
}
