package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tiercare/sessionqa/internal/cache"
	"github.com/tiercare/sessionqa/internal/store"
)

// Batch sizing and pacing defaults.
const (
	// MaxBatchSize is the default cap on one submission; larger
	// requests are rejected rather than truncated.
	MaxBatchSize = 25
	// DefaultChunkWidth is how many sessions are analyzed concurrently.
	DefaultChunkWidth = 2
	// DefaultInterChunkDelay paces chunks to avoid hammering the model
	// provider's rate limits.
	DefaultInterChunkDelay = 500 * time.Millisecond
)

// BatchTooLargeError rejects a submission exceeding MaxBatchSize.
type BatchTooLargeError struct {
	Requested int
	Max       int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d sessions exceeds the maximum of %d", e.Requested, e.Max)
}

// StatusSnapshot is the progress view served to polling clients.
type StatusSnapshot struct {
	ID             string            `json:"id"`
	Status         store.BatchStatus `json:"status"`
	Total          int               `json:"total"`
	ProcessedCount int               `json:"processedCount"`
	FailedCount    int               `json:"failedCount"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

// CoordinatorOptions tune batch sizing and pacing. Zero values select
// defaults.
type CoordinatorOptions struct {
	MaxSize         int
	ChunkWidth      int
	InterChunkDelay time.Duration
}

// Coordinator owns the BatchJob lifecycle: queued → processing →
// {completed | failed | partial}. Jobs are mutated only here.
type Coordinator struct {
	store     *store.Store
	cache     *cache.Cache
	processor *Processor
	maxSize   int
	width     int
	delay     time.Duration
}

// NewCoordinator builds a coordinator over the store, cache, and
// per-session processor.
func NewCoordinator(st *store.Store, c *cache.Cache, processor *Processor, opts CoordinatorOptions) *Coordinator {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = MaxBatchSize
	}
	width := opts.ChunkWidth
	if width <= 0 {
		width = DefaultChunkWidth
	}
	delay := opts.InterChunkDelay
	if delay <= 0 {
		delay = DefaultInterChunkDelay
	}
	return &Coordinator{
		store:     st,
		cache:     c,
		processor: processor,
		maxSize:   maxSize,
		width:     width,
		delay:     delay,
	}
}

// Submit validates and records a batch over the given session ids.
// Every id must belong to the submitting supervisor. The job is
// created queued; Run or Start drives it.
func (c *Coordinator) Submit(ctx context.Context, supervisorID string, sessionIDs []string) (*store.BatchJob, error) {
	if len(sessionIDs) == 0 {
		return nil, errors.New("no session ids submitted")
	}
	if len(sessionIDs) > c.maxSize {
		return nil, &BatchTooLargeError{Requested: len(sessionIDs), Max: c.maxSize}
	}

	owned, err := c.supervisorSessionIDs(ctx, supervisorID)
	if err != nil {
		return nil, err
	}
	for _, id := range sessionIDs {
		if _, ok := owned[id]; !ok {
			return nil, fmt.Errorf("session %s does not belong to supervisor %s", id, supervisorID)
		}
	}

	job, err := c.store.CreateBatchJob(ctx, supervisorID, sessionIDs)
	if err != nil {
		return nil, err
	}
	if err := c.store.AssignBatch(ctx, job.ID, sessionIDs); err != nil {
		return nil, err
	}
	slog.Info("batch submitted",
		"batch", job.ID,
		"supervisor", supervisorID,
		"sessions", len(sessionIDs))
	return job, nil
}

// Run drives one queued batch to a terminal status. Sessions are
// analyzed in chunks of the configured width; a chunk fully resolves
// before the next begins, and one item's failure never aborts its
// siblings or the batch. Cancellation finalizes the job: unprocessed
// items are recorded as failed so the counters still account for every
// session.
func (c *Coordinator) Run(ctx context.Context, batchID string) (*store.BatchJob, error) {
	job, err := c.store.GetBatchJob(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := c.store.MarkBatchProcessing(ctx, batchID); err != nil {
		return nil, err
	}
	slog.Info("batch started", "batch", batchID, "total", job.Total)

	var (
		mu        sync.Mutex
		processed int
		failed    int
		errorLog  []store.BatchError
	)
	recordFailure := func(sessionID string, cause error) {
		mu.Lock()
		defer mu.Unlock()
		failed++
		errorLog = append(errorLog, store.BatchError{
			SessionID:    sessionID,
			ErrorMessage: cause.Error(),
			Timestamp:    time.Now().UTC(),
		})
	}

	ids := job.SessionIDs
	for start := 0; start < len(ids); start += c.width {
		if ctx.Err() != nil {
			for _, id := range ids[start:] {
				recordFailure(id, fmt.Errorf("cancelled: %w", ctx.Err()))
			}
			break
		}

		end := min(start+c.width, len(ids))
		var g errgroup.Group
		for _, sessionID := range ids[start:end] {
			g.Go(func() error {
				if _, err := c.processor.processByID(ctx, sessionID); err != nil {
					recordFailure(sessionID, err)
					slog.Warn("batch item failed",
						"batch", batchID,
						"session", sessionID,
						"error", err)
					return nil
				}
				mu.Lock()
				processed++
				mu.Unlock()
				return nil
			})
		}
		// Workers swallow their own errors; Wait only synchronizes.
		_ = g.Wait()

		c.persistProgress(ctx, job, processed, failed, errorLog)

		if end < len(ids) && c.delay > 0 {
			if err := sleepCtx(ctx, c.delay); err != nil {
				continue // next iteration records the remainder as failed
			}
		}
	}

	// Finalize on a fresh context so a cancelled run still reaches a
	// terminal status with accurate counters.
	finCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	status := terminalStatus(job.Total, failed)
	if err := c.store.CompleteBatch(finCtx, batchID, status, processed, failed, errorLog); err != nil {
		return nil, err
	}

	final, err := c.store.GetBatchJob(finCtx, batchID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(finCtx, cache.BatchStatusKey(batchID), snapshotOf(final), cache.TTLBatchStatus)
	c.cache.DeletePattern(finCtx, cache.AllSessionListsPattern())

	slog.Info("batch finished",
		"batch", batchID,
		"status", final.Status,
		"processed", final.ProcessedCount,
		"failed", final.FailedCount)
	return final, nil
}

// Start launches Run in the background and returns a handle the caller
// can await or abandon. The job itself always runs to a terminal
// status.
func (c *Coordinator) Start(ctx context.Context, batchID string) *Handle {
	h := &Handle{batchID: batchID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.job, h.err = c.Run(ctx, batchID)
	}()
	return h
}

// Status returns the progress snapshot for a batch, serving from cache
// when possible and refreshing the cache on a store read.
func (c *Coordinator) Status(ctx context.Context, batchID string) (*StatusSnapshot, error) {
	var cached StatusSnapshot
	if c.cache.Get(ctx, cache.BatchStatusKey(batchID), &cached) {
		return &cached, nil
	}
	job, err := c.store.GetBatchJob(ctx, batchID)
	if err != nil {
		return nil, err
	}
	snapshot := snapshotOf(job)
	c.cache.Set(ctx, cache.BatchStatusKey(batchID), snapshot, cache.TTLBatchStatus)
	return snapshot, nil
}

// supervisorSessionIDs returns the set of session ids owned by a
// supervisor, cache-first.
func (c *Coordinator) supervisorSessionIDs(ctx context.Context, supervisorID string) (map[string]struct{}, error) {
	key := cache.SupervisorSessionsKey(supervisorID)

	var ids []string
	if !c.cache.Get(ctx, key, &ids) {
		var err error
		ids, err = c.store.SessionIDsBySupervisor(ctx, supervisorID)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ctx, key, ids, cache.TTLSupervisorSessions)
	}

	owned := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		owned[id] = struct{}{}
	}
	return owned, nil
}

func (c *Coordinator) persistProgress(ctx context.Context, job *store.BatchJob, processed, failed int, errorLog []store.BatchError) {
	if err := c.store.UpdateBatchProgress(ctx, job.ID, processed, failed, errorLog); err != nil {
		slog.Error("failed to persist batch progress", "batch", job.ID, "error", err)
		return
	}
	c.cache.Set(ctx, cache.BatchStatusKey(job.ID), &StatusSnapshot{
		ID:             job.ID,
		Status:         store.BatchProcessing,
		Total:          job.Total,
		ProcessedCount: processed,
		FailedCount:    failed,
		StartedAt:      job.StartedAt,
	}, cache.TTLBatchStatus)
}

// terminalStatus applies the completion rule: completed iff nothing
// failed, failed iff everything failed, partial otherwise.
func terminalStatus(total, failed int) store.BatchStatus {
	switch {
	case failed == 0:
		return store.BatchCompleted
	case failed >= total:
		return store.BatchFailed
	default:
		return store.BatchPartial
	}
}

func snapshotOf(job *store.BatchJob) *StatusSnapshot {
	return &StatusSnapshot{
		ID:             job.ID,
		Status:         job.Status,
		Total:          job.Total,
		ProcessedCount: job.ProcessedCount,
		FailedCount:    job.FailedCount,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}
}

// Handle tracks one background batch run.
type Handle struct {
	batchID string
	done    chan struct{}
	job     *store.BatchJob
	err     error
}

// BatchID identifies the job this handle tracks.
func (h *Handle) BatchID() string { return h.batchID }

// Done is closed when the run reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or ctx expires. Abandoning the
// wait does not stop the run.
func (h *Handle) Wait(ctx context.Context) (*store.BatchJob, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.job, h.err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
