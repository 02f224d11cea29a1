// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer asks a language model whether a new error shares a
// root cause with work that is already in flight. The verdict gates
// dispatch: duplicates link to the existing work instead of opening
// another repair session.
//
// # Failure Policy
//
// The classifier is advisory. A missing API key, a failed call, or an
// unparseable response all yield a fallback verdict that is NOT a
// duplicate, so degraded analysis can only ever cause an extra
// dispatch, never a silently dropped error.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianTriage/services/triage/activework"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// =============================================================================
// Types
// =============================================================================

// Category classifies the root cause.
type Category string

const (
	CategorySecurity       Category = "SECURITY"
	CategoryFunctional     Category = "FUNCTIONAL"
	CategoryDataIntegrity  Category = "DATA_INTEGRITY"
	CategoryUserExperience Category = "USER_EXPERIENCE"
	CategoryPerformance    Category = "PERFORMANCE"
	CategoryOther          Category = "OTHER"
)

// RootCauseAnalysis is the classifier's verdict on one error.
type RootCauseAnalysis struct {
	RootCause               string           `json:"root_cause"`
	Category                Category         `json:"category"`
	Severity                report.Severity  `json:"severity"`
	AffectedComponents      []string         `json:"affected_components,omitempty"`
	SuggestedAction         string           `json:"suggested_action"`
	IsDuplicateOfActiveWork bool             `json:"is_duplicate_of_active_work"`
	MatchingActiveWork      *activework.Item `json:"matching_active_work,omitempty"`
	Confidence              float64          `json:"confidence"`
	Reasoning               string           `json:"reasoning"`

	// FallbackUsed marks verdicts produced without (or despite) the
	// model: missing key, failed call, unparseable output.
	FallbackUsed bool `json:"-"`
}

// ContextPayload returns the subset of the analysis embedded into the
// error's context map before dispatch, so the repair session sees what
// the classifier concluded.
func (a *RootCauseAnalysis) ContextPayload() map[string]any {
	return map[string]any{
		"root_cause":          a.RootCause,
		"category":            string(a.Category),
		"severity":            string(a.Severity),
		"affected_components": a.AffectedComponents,
		"suggested_action":    a.SuggestedAction,
		"confidence":          a.Confidence,
	}
}

// Config tunes the analyzer's calling behavior.
type Config struct {
	// MaxRetries is how many additional attempts follow a failed
	// call. Retries use exponential backoff.
	MaxRetries int

	// RetryBackoff is the first retry's delay; it doubles per retry.
	RetryBackoff time.Duration

	// Timeout bounds each individual model call.
	Timeout time.Duration

	// MaxTokens caps the verdict length.
	MaxTokens int

	// MaxConcurrent bounds simultaneous model calls. Zero or negative
	// disables the cap.
	MaxConcurrent int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    1,
		RetryBackoff:  500 * time.Millisecond,
		Timeout:       60 * time.Second,
		MaxTokens:     2048,
		MaxConcurrent: 4,
	}
}

// =============================================================================
// Analyzer
// =============================================================================

// Analyzer runs duplicate classification. Concurrent calls for the
// same fingerprint coalesce into one model call.
//
// # Thread Safety
//
// Safe for concurrent use.
type Analyzer struct {
	client    llm.Client
	config    Config
	logger    *slog.Logger
	inflight  singleflight.Group
	semaphore chan struct{}
}

// New creates an Analyzer. Non-positive config fields fall back to
// defaults. client may be unconfigured; every Analyze then returns
// the fail-open fallback.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Analyzer{
		client: client,
		config: cfg,
		logger: logger,
	}
	if cfg.MaxConcurrent > 0 {
		a.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return a
}

// Analyze classifies one error against the active-work list. It
// always returns a verdict; see the package failure policy.
func (a *Analyzer) Analyze(ctx context.Context, e report.ErrorReport, work []activework.Item) *RootCauseAnalysis {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer("analyzer").Start(ctx, "analyzer.Analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("fingerprint", e.ShortFingerprint()),
			attribute.Int("active_work_items", len(work)),
		),
	)
	defer span.End()

	if a.client == nil || !a.client.Configured() {
		a.logger.Warn("no classifier API key configured, defaulting to allow error reporting")
		span.SetAttributes(
			attribute.Bool("fallback_used", true),
			attribute.String("fallback_reason", "no_api_key"),
		)
		return fallbackAnalysis("API key not configured",
			"Classifier API key not configured, defaulting to allow error reporting")
	}

	// Coalesce concurrent analyses of the same fingerprint.
	key := e.Fingerprint()
	resultInterface, err, _ := a.inflight.Do(key, func() (interface{}, error) {
		return a.analyzeWithRetry(ctx, e, work)
	})

	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			span.SetStatus(codes.Error, "context cancelled")
		}
		span.SetAttributes(
			attribute.Bool("fallback_used", true),
			attribute.String("fallback_reason", err.Error()),
		)
		a.logger.Error("AI analysis failed, defaulting to allow error reporting",
			"fingerprint", e.ShortFingerprint(), "error", err)
		return fallbackAnalysis(fmt.Sprintf("Analysis failed: %v", err),
			"AI analysis failed, defaulting to allow error reporting")
	}

	result := resultInterface.(*RootCauseAnalysis)
	span.SetAttributes(
		attribute.Bool("is_duplicate", result.IsDuplicateOfActiveWork),
		attribute.Float64("confidence", result.Confidence),
		attribute.Bool("fallback_used", result.FallbackUsed),
	)
	return result
}

// analyzeWithRetry performs the model call with exponential backoff.
func (a *Analyzer) analyzeWithRetry(ctx context.Context, e report.ErrorReport, work []activework.Item) (*RootCauseAnalysis, error) {
	var lastErr error

	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := a.doAnalyze(ctx, e, work)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Don't retry on context cancellation.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		a.logger.Debug("analysis attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", a.config.MaxRetries),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("analysis failed after %d attempts: %w",
		a.config.MaxRetries+1, lastErr)
}

// doAnalyze performs a single model call and parses the verdict.
func (a *Analyzer) doAnalyze(ctx context.Context, e report.ErrorReport, work []activework.Item) (*RootCauseAnalysis, error) {
	if a.semaphore != nil {
		select {
		case a.semaphore <- struct{}{}:
			defer func() { <-a.semaphore }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	raw, err := a.client.Complete(reqCtx, systemPrompt, buildUserPrompt(e, work),
		llm.Params{MaxTokens: a.config.MaxTokens})
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}
	return parseAnalysis(raw, work), nil
}

// fallbackAnalysis is the fail-open verdict: never a duplicate, zero
// confidence, manual review suggested.
func fallbackAnalysis(rootCause, reasoning string) *RootCauseAnalysis {
	return &RootCauseAnalysis{
		RootCause:       rootCause,
		Category:        CategoryOther,
		Severity:        report.SeverityError,
		SuggestedAction: "Manual review required",
		Confidence:      0,
		Reasoning:       reasoning,
		FallbackUsed:    true,
	}
}
