package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateBatchJob inserts a queued batch job over the given session ids.
// Validation of the id list (non-empty, under the cap) belongs to the
// coordinator; the store persists what it is given.
func (s *Store) CreateBatchJob(ctx context.Context, supervisorID string, sessionIDs []string) (*BatchJob, error) {
	idsJSON, err := json.Marshal(sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal session ids: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO batch_jobs (
            id, supervisor_id, status, total, processed_count, failed_count,
            session_ids_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		id,
		supervisorID,
		BatchQueued,
		len(sessionIDs),
		string(idsJSON),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch job: %w", err)
	}
	return s.GetBatchJob(ctx, id)
}

// GetBatchJob fetches a batch job by id, returning ErrNotFound when it
// does not exist.
func (s *Store) GetBatchJob(ctx context.Context, id string) (*BatchJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batch_jobs WHERE id = ?`, id)
	job, err := scanBatchJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch job: %w", err)
	}
	return job, nil
}

// MarkBatchProcessing atomically moves a queued job to processing and
// records its start time. A job that already started, or already
// reached a terminal status, yields ErrBatchNotQueued.
func (s *Store) MarkBatchProcessing(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs SET status = ?, started_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		BatchProcessing,
		now,
		now,
		id,
		BatchQueued,
	)
	if err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetBatchJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("batch %s: %w", id, ErrBatchNotQueued)
	}
	return nil
}

// UpdateBatchProgress persists the running counters and error log of an
// in-flight job.
func (s *Store) UpdateBatchProgress(ctx context.Context, id string, processed, failed int, errorLog []BatchError) error {
	logJSON, err := marshalErrorLog(errorLog)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs
         SET processed_count = ?, failed_count = ?, error_log_json = ?, updated_at = ?
         WHERE id = ?`,
		processed,
		failed,
		logJSON,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update batch progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return nil
}

// CompleteBatch moves a job to its terminal status with final counters
// and completion time. Terminal jobs are immutable afterwards.
func (s *Store) CompleteBatch(ctx context.Context, id string, status BatchStatus, processed, failed int, errorLog []BatchError) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	logJSON, err := marshalErrorLog(errorLog)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs
         SET status = ?, processed_count = ?, failed_count = ?, error_log_json = ?,
             completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		status,
		processed,
		failed,
		logJSON,
		now,
		now,
		id,
		BatchProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("batch %s is not processing: %w", id, ErrNotFound)
	}
	return nil
}

func marshalErrorLog(errorLog []BatchError) (any, error) {
	if len(errorLog) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(errorLog)
	if err != nil {
		return nil, fmt.Errorf("marshal error log: %w", err)
	}
	return string(data), nil
}

const batchColumns = "id, supervisor_id, status, total, processed_count, failed_count, session_ids_json, error_log_json, started_at, completed_at, created_at, updated_at"

func scanBatchJob(scanner interface{ Scan(dest ...any) error }) (*BatchJob, error) {
	var (
		id           string
		supervisorID string
		statusStr    string
		total        int
		processed    int
		failed       int
		idsJSON      string
		logJSON      sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&supervisorID,
		&statusStr,
		&total,
		&processed,
		&failed,
		&idsJSON,
		&logJSON,
		&startedRaw,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &BatchJob{
		ID:             id,
		SupervisorID:   supervisorID,
		Status:         BatchStatus(statusStr),
		Total:          total,
		ProcessedCount: processed,
		FailedCount:    failed,
	}
	if err := json.Unmarshal([]byte(idsJSON), &job.SessionIDs); err != nil {
		return nil, fmt.Errorf("batch %s: decode session ids: %w", id, err)
	}
	if logJSON.Valid && logJSON.String != "" {
		if err := json.Unmarshal([]byte(logJSON.String), &job.ErrorLog); err != nil {
			return nil, fmt.Errorf("batch %s: decode error log: %w", id, err)
		}
	}
	job.StartedAt = timePtr(startedRaw)
	job.CompletedAt = timePtr(completedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
