// Package engine turns a raw session transcript into a validated
// StructuredAnalysis, either by prompting the Gemini model collaborator
// or via a deterministic mock for credential-less environments.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tiercare/sessionqa/internal/analysis"
	"github.com/tiercare/sessionqa/internal/gemini"
)

// Defaults for the retry budget and sampling configuration.
const (
	DefaultModel       = "gemini-1.5-pro"
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMockDelay   = 150 * time.Millisecond

	samplingTemperature = 0.1
	maxOutputTokens     = 2048
)

// Request identifies one unit of analysis work. Immutable once
// submitted.
type Request struct {
	SessionID  string
	Transcript string
	Concept    string
}

// Analyzer produces a validated analysis for one transcript.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*analysis.StructuredAnalysis, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, req Request) (*analysis.StructuredAnalysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, req Request) (*analysis.StructuredAnalysis, error) {
	return f(ctx, req)
}

// ModelClient is the seam to the Gemini collaborator, satisfied by
// *gemini.Client and by test fakes.
type ModelClient interface {
	GenerateContent(ctx context.Context, model string, req *gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, error)
}

// Options configures analyzer construction.
type Options struct {
	// APIKey is the Gemini credential. Empty with Mock false is a
	// ConfigurationError.
	APIKey string
	// Mock selects the deterministic offline analyzer.
	Mock bool
	// Model is the Gemini model id.
	Model string
	// MaxAttempts is the total attempt cap, schema failures included.
	MaxAttempts int
	// BaseDelay is the backoff base; the delay before retry n is
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration
	// MockDelay is the artificial latency of the mock analyzer.
	MockDelay time.Duration
}

// New selects the analyzer for the environment: mock when requested,
// otherwise the Gemini-backed analyzer, failing fast when no credential
// is configured.
func New(opts Options) (Analyzer, error) {
	if opts.Mock {
		delay := opts.MockDelay
		if delay <= 0 {
			delay = DefaultMockDelay
		}
		return NewMockAnalyzer(delay), nil
	}
	if opts.APIKey == "" {
		return nil, &ConfigurationError{Reason: "no model credential configured; set GEMINI_API_KEY or enable mock mode"}
	}
	return NewGeminiAnalyzer(gemini.NewClient(opts.APIKey), opts), nil
}

// GeminiAnalyzer prompts the model collaborator and validates its
// output, retrying with exponential backoff.
type GeminiAnalyzer struct {
	client      ModelClient
	model       string
	maxAttempts int
	baseDelay   time.Duration
}

// NewGeminiAnalyzer builds an analyzer over an existing model client.
// Zero option values fall back to package defaults.
func NewGeminiAnalyzer(client ModelClient, opts Options) *GeminiAnalyzer {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return &GeminiAnalyzer{
		client:      client,
		model:       model,
		maxAttempts: attempts,
		baseDelay:   base,
	}
}

// Analyze builds the prompt, invokes the model, and validates the
// response. Schema-validation failures consume the same attempt budget
// as transient provider failures; the last error is surfaced after the
// final attempt.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, req Request) (*analysis.StructuredAnalysis, error) {
	prompt := buildPrompt(req.Transcript, req.Concept)
	temperature := samplingTemperature
	greq := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{
			{Role: "user", Parts: []gemini.Part{{Text: prompt}}},
		},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:      &temperature,
			MaxOutputTokens:  maxOutputTokens,
			ResponseMimeType: "application/json",
		},
	}

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.baseDelay << (attempt - 1)
			slog.Debug("retrying analysis",
				"session", req.SessionID,
				"attempt", attempt+1,
				"delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := g.client.GenerateContent(ctx, g.model, greq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !gemini.IsRetryable(err) {
				return nil, fmt.Errorf("model request failed: %w", err)
			}
			lastErr = &ProviderError{Err: err}
			slog.Warn("model call failed",
				"session", req.SessionID,
				"attempt", attempt+1,
				"error", err)
			continue
		}

		text := resp.Text()
		if text == "" {
			lastErr = &ProviderError{Err: errors.New("empty model response")}
			continue
		}

		result, err := analysis.Validate([]byte(stripCodeFences(text)))
		if err != nil {
			// A malformed-but-deterministic response will likely fail
			// the same way every attempt; it still consumes the budget.
			lastErr = err
			slog.Warn("model output failed validation",
				"session", req.SessionID,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("analysis failed after %d attempts: %w", g.maxAttempts, lastErr)
}

var codeFenceRe = regexp.MustCompile("```json\n?|\n?```")

// stripCodeFences removes incidental markdown fencing around the JSON
// payload.
func stripCodeFences(s string) string {
	return strings.TrimSpace(codeFenceRe.ReplaceAllString(s, ""))
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
