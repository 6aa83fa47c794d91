package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tiercare/sessionqa/internal/analysis"
	"github.com/tiercare/sessionqa/internal/cache"
	"github.com/tiercare/sessionqa/internal/engine"
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

func seedSessions(t *testing.T, st *store.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := st.CreateSession(context.Background(), store.NewSession{
			FellowID:        fmt.Sprintf("fellow-%d", i),
			SupervisorID:    "sup-1",
			AssignedConcept: "growth mindset",
			Transcript:      "Fellow: welcome back, today we keep practicing our skills.",
		})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	return ids
}

func safeResult() *analysis.StructuredAnalysis {
	return &analysis.StructuredAnalysis{
		Summary:             "The session went smoothly with strong participation and a clear walkthrough of the assigned concept from start to finish.",
		RiskFlag:            analysis.RiskFlagSafe,
		RiskDetails:         []analysis.RiskDetail{},
		OverallQualityScore: 8,
		ConfidenceScore:     0.85,
		KeyStrengths:        []string{"Clear structure"},
		AreasForImprovement: []string{"More practice time"},
	}
}

// countingAnalyzer returns canned results while tracking call and
// concurrency counts.
type countingAnalyzer struct {
	calls   atomic.Int32
	current atomic.Int32
	max     atomic.Int32
	delay   time.Duration
	failFor map[string]error

	mu   sync.Mutex
	seen []string
}

func (a *countingAnalyzer) Analyze(ctx context.Context, req engine.Request) (*analysis.StructuredAnalysis, error) {
	a.calls.Add(1)
	cur := a.current.Add(1)
	defer a.current.Add(-1)
	for {
		prev := a.max.Load()
		if cur <= prev || a.max.CompareAndSwap(prev, cur) {
			break
		}
	}

	a.mu.Lock()
	a.seen = append(a.seen, req.SessionID)
	a.mu.Unlock()

	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.delay):
		}
	}
	if err, ok := a.failFor[req.SessionID]; ok {
		return nil, err
	}
	return safeResult(), nil
}

func newHarness(t *testing.T, analyzer engine.Analyzer) (*store.Store, *Coordinator, *Processor) {
	t.Helper()
	st := newTestStore(t)
	c := cache.New("")
	processor := NewProcessor(st, c, analyzer, policy.DefaultThresholds())
	coordinator := NewCoordinator(st, c, processor, CoordinatorOptions{
		ChunkWidth:      2,
		InterChunkDelay: time.Millisecond,
	})
	return st, coordinator, processor
}

func TestSubmitValidation(t *testing.T) {
	_, coordinator, _ := newHarness(t, &countingAnalyzer{})
	ctx := context.Background()

	t.Run("empty submission is rejected", func(t *testing.T) {
		_, err := coordinator.Submit(ctx, "sup-1", nil)
		require.ErrorContains(t, err, "no session ids")
	})

	t.Run("oversized submission is rejected, not truncated", func(t *testing.T) {
		ids := make([]string, MaxBatchSize+1)
		for i := range ids {
			ids[i] = fmt.Sprintf("s%d", i)
		}
		_, err := coordinator.Submit(ctx, "sup-1", ids)

		var tooLarge *BatchTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		require.Equal(t, MaxBatchSize+1, tooLarge.Requested)
		require.Equal(t, MaxBatchSize, tooLarge.Max)
	})

	t.Run("submission at the cap is accepted", func(t *testing.T) {
		st, coordinator, _ := newHarness(t, &countingAnalyzer{})
		ids := seedSessions(t, st, MaxBatchSize)
		job, err := coordinator.Submit(ctx, "sup-1", ids)
		require.NoError(t, err)
		require.Equal(t, MaxBatchSize, job.Total)
	})

	t.Run("configured cap replaces the default", func(t *testing.T) {
		st := newTestStore(t)
		c := cache.New("")
		processor := NewProcessor(st, c, &countingAnalyzer{}, policy.DefaultThresholds())
		coordinator := NewCoordinator(st, c, processor, CoordinatorOptions{
			MaxSize:         3,
			ChunkWidth:      2,
			InterChunkDelay: time.Millisecond,
		})
		ids := seedSessions(t, st, 4)

		_, err := coordinator.Submit(ctx, "sup-1", ids)
		var tooLarge *BatchTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		require.Equal(t, 4, tooLarge.Requested)
		require.Equal(t, 3, tooLarge.Max)

		job, err := coordinator.Submit(ctx, "sup-1", ids[:3])
		require.NoError(t, err)
		require.Equal(t, 3, job.Total)
	})

	t.Run("another supervisor's sessions are rejected", func(t *testing.T) {
		st, coordinator, _ := newHarness(t, &countingAnalyzer{})
		ids := seedSessions(t, st, 2)
		_, err := coordinator.Submit(ctx, "sup-2", ids)
		require.ErrorContains(t, err, "does not belong to supervisor sup-2")
	})
}

func TestRunProcessesAllSessionsInChunks(t *testing.T) {
	analyzer := &countingAnalyzer{delay: 10 * time.Millisecond}
	st, coordinator, _ := newHarness(t, analyzer)
	ctx := context.Background()

	ids := seedSessions(t, st, 5)
	job, err := coordinator.Submit(ctx, "sup-1", ids)
	require.NoError(t, err)

	final, err := coordinator.Run(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, final.Status)
	require.Equal(t, 5, final.ProcessedCount)
	require.Equal(t, 0, final.FailedCount)
	require.Equal(t, final.Total, final.ProcessedCount+final.FailedCount)
	require.Empty(t, final.ErrorLog)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	// Chunk width bounds concurrency.
	require.EqualValues(t, 5, analyzer.calls.Load())
	require.LessOrEqual(t, analyzer.max.Load(), int32(2))

	for _, id := range ids {
		session, err := st.GetSession(ctx, id)
		require.NoError(t, err)
		require.Equal(t, policy.StatusSafe, session.Status)
		require.NotEmpty(t, session.AnalysisJSON)
		require.NotNil(t, session.ProcessedAt)
	}
}

func TestRunIsolatesItemFailures(t *testing.T) {
	st := newTestStore(t)
	ids := seedSessions(t, st, 4)

	analyzer := &countingAnalyzer{failFor: map[string]error{
		ids[1]: errors.New("model unavailable"),
	}}
	c := cache.New("")
	processor := NewProcessor(st, c, analyzer, policy.DefaultThresholds())
	coordinator := NewCoordinator(st, c, processor, CoordinatorOptions{ChunkWidth: 2, InterChunkDelay: time.Millisecond})

	ctx := context.Background()
	job, err := coordinator.Submit(ctx, "sup-1", ids)
	require.NoError(t, err)

	final, err := coordinator.Run(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.BatchPartial, final.Status)
	require.Equal(t, 3, final.ProcessedCount)
	require.Equal(t, 1, final.FailedCount)
	require.Equal(t, final.Total, final.ProcessedCount+final.FailedCount)
	require.Len(t, final.ErrorLog, 1)
	require.Equal(t, ids[1], final.ErrorLog[0].SessionID)
	require.Contains(t, final.ErrorLog[0].ErrorMessage, "model unavailable")

	// The failed session is retryable, not stuck.
	failed, err := st.GetSession(ctx, ids[1])
	require.NoError(t, err)
	require.Equal(t, policy.StatusPending, failed.Status)
	require.Contains(t, failed.ErrorMessage, "model unavailable")
}

func TestRunAllFailuresYieldsFailedStatus(t *testing.T) {
	st := newTestStore(t)
	ids := seedSessions(t, st, 2)
	analyzer := &countingAnalyzer{failFor: map[string]error{
		ids[0]: errors.New("down"),
		ids[1]: errors.New("down"),
	}}
	c := cache.New("")
	processor := NewProcessor(st, c, analyzer, policy.DefaultThresholds())
	coordinator := NewCoordinator(st, c, processor, CoordinatorOptions{ChunkWidth: 2, InterChunkDelay: time.Millisecond})

	ctx := context.Background()
	job, err := coordinator.Submit(ctx, "sup-1", ids)
	require.NoError(t, err)

	final, err := coordinator.Run(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.BatchFailed, final.Status)
	require.Equal(t, 0, final.ProcessedCount)
	require.Equal(t, 2, final.FailedCount)
}

func TestRunRejectsNonQueuedBatch(t *testing.T) {
	st, coordinator, _ := newHarness(t, &countingAnalyzer{})
	ctx := context.Background()

	ids := seedSessions(t, st, 1)
	job, err := coordinator.Submit(ctx, "sup-1", ids)
	require.NoError(t, err)

	_, err = coordinator.Run(ctx, job.ID)
	require.NoError(t, err)

	_, err = coordinator.Run(ctx, job.ID)
	require.ErrorIs(t, err, store.ErrBatchNotQueued)
}

func TestRunCancellationFinalizesCounters(t *testing.T) {
	analyzer := &countingAnalyzer{delay: 20 * time.Millisecond}
	st, coordinator, _ := newHarness(t, analyzer)

	ids := seedSessions(t, st, 6)
	job, err := coordinator.Submit(context.Background(), "sup-1", ids)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	final, err := coordinator.Run(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, final.Status.Terminal())
	require.Equal(t, final.Total, final.ProcessedCount+final.FailedCount)
	require.NotNil(t, final.CompletedAt)
}

func TestStartHandleWait(t *testing.T) {
	st, coordinator, _ := newHarness(t, &countingAnalyzer{})
	ctx := context.Background()

	ids := seedSessions(t, st, 2)
	job, err := coordinator.Submit(ctx, "sup-1", ids)
	require.NoError(t, err)

	handle := coordinator.Start(ctx, job.ID)
	require.Equal(t, job.ID, handle.BatchID())

	final, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, final.Status)

	select {
	case <-handle.Done():
	default:
		t.Fatal("Done channel should be closed after Wait returns")
	}
}

func TestHandleWaitRespectsContext(t *testing.T) {
	analyzer := &countingAnalyzer{delay: 100 * time.Millisecond}
	st, coordinator, _ := newHarness(t, analyzer)
	ctx := context.Background()

	ids := seedSessions(t, st, 2)
	job, err := coordinator.Submit(ctx, "sup-1", ids)
	require.NoError(t, err)

	handle := coordinator.Start(ctx, job.ID)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = handle.Wait(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned run still finishes.
	final, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, final.Status)
}

func TestStatusSnapshot(t *testing.T) {
	st, coordinator, _ := newHarness(t, &countingAnalyzer{})
	ctx := context.Background()

	ids := seedSessions(t, st, 2)
	job, err := coordinator.Submit(ctx, "sup-1", ids)
	require.NoError(t, err)

	queued, err := coordinator.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.BatchQueued, queued.Status)
	require.Equal(t, 2, queued.Total)

	_, err = coordinator.Run(ctx, job.ID)
	require.NoError(t, err)

	done, err := coordinator.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, done.Status)
	require.Equal(t, 2, done.ProcessedCount)
	require.NotNil(t, done.CompletedAt)

	_, err = coordinator.Status(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
