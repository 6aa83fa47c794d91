// Package batch coordinates analysis of sessions: a Processor drives
// one session through claim → analyze → persist → cache, and a
// Coordinator fans a bounded batch of sessions over the Processor with
// chunked concurrency and per-item failure isolation.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiercare/sessionqa/internal/analysis"
	"github.com/tiercare/sessionqa/internal/cache"
	"github.com/tiercare/sessionqa/internal/engine"
	"github.com/tiercare/sessionqa/internal/policy"
	"github.com/tiercare/sessionqa/internal/store"
)

// Processor analyzes a single session end to end. The store remains
// the source of truth; the cache is injected and fail-open.
type Processor struct {
	store      *store.Store
	cache      *cache.Cache
	analyzer   engine.Analyzer
	thresholds policy.Thresholds
}

// NewProcessor wires the orchestrator's collaborators together.
func NewProcessor(st *store.Store, c *cache.Cache, analyzer engine.Analyzer, thresholds policy.Thresholds) *Processor {
	return &Processor{
		store:      st,
		cache:      c,
		analyzer:   analyzer,
		thresholds: thresholds,
	}
}

// AnalyzeSession is the single-item convenience path. It short-circuits
// on a cached analysis, then on a previously persisted one, and only
// invokes the model for a session with no stored result.
func (p *Processor) AnalyzeSession(ctx context.Context, sessionID string) (*analysis.StructuredAnalysis, error) {
	var cached analysis.StructuredAnalysis
	if p.cache.Get(ctx, cache.AnalysisKey(sessionID), &cached) {
		return &cached, nil
	}

	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.AnalysisJSON != "" {
		var existing analysis.StructuredAnalysis
		if err := json.Unmarshal([]byte(session.AnalysisJSON), &existing); err != nil {
			return nil, fmt.Errorf("decode stored analysis for %s: %w", sessionID, err)
		}
		p.cache.Set(ctx, cache.AnalysisKey(sessionID), &existing, cache.TTLAnalysis)
		return &existing, nil
	}

	return p.process(ctx, session)
}

// process claims the session, runs the analysis, persists the derived
// result, and maintains the cache. Any failure after the claim reverts
// the session to pending so it is never stuck in processing.
func (p *Processor) process(ctx context.Context, session *store.Session) (*analysis.StructuredAnalysis, error) {
	if err := p.store.TryMarkProcessing(ctx, session.ID); err != nil {
		return nil, err
	}

	result, err := p.analyzer.Analyze(ctx, engine.Request{
		SessionID:  session.ID,
		Transcript: session.Transcript,
		Concept:    session.AssignedConcept,
	})
	if err != nil {
		p.revert(session.ID, err)
		return nil, err
	}

	status := p.thresholds.DeriveStatus(result)
	doc, err := json.Marshal(result)
	if err != nil {
		p.revert(session.ID, err)
		return nil, fmt.Errorf("encode analysis for %s: %w", session.ID, err)
	}
	if err := p.store.UpdateSessionResult(ctx, session.ID, status, string(doc), result.ConfidenceScore, time.Now().UTC()); err != nil {
		p.revert(session.ID, err)
		return nil, err
	}

	p.cache.Set(ctx, cache.AnalysisKey(session.ID), result, cache.TTLAnalysis)
	p.cache.Delete(ctx, cache.SupervisorSessionsKey(session.SupervisorID))
	p.cache.DeletePattern(ctx, cache.SessionListPattern(session.SupervisorID))

	slog.Info("session analyzed",
		"session", session.ID,
		"status", status,
		"confidence", result.ConfidenceScore,
		"riskFlag", result.RiskFlag)
	return result, nil
}

// processByID loads and processes a session; batch items enter here.
func (p *Processor) processByID(ctx context.Context, sessionID string) (*analysis.StructuredAnalysis, error) {
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return p.process(ctx, session)
}

// revert uses a fresh context so cancellation of the analysis never
// leaves the session stuck in processing.
func (p *Processor) revert(sessionID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.RevertToPending(ctx, sessionID, cause.Error()); err != nil {
		slog.Error("failed to revert session to pending",
			"session", sessionID,
			"error", err)
	}
}
