// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router composes the triage pipeline into a single Route
// operation.
//
// # Description
//
// Route runs an ErrorReport through an ordered gate chain and, when
// every gate passes, dispatches a sanitized repair prompt to the
// upstream repair service:
//
//	severity -> disabled -> cooldown -> active session -> dedup window
//	  -> hourly quota -> AI duplicate check -> sanitize + prompt
//	  -> dispatch -> record attempt
//
// Cooldown precedes the active-session check so a merged fix beats any
// dangling session pointer. The active-session check precedes the
// dedup window so session reuse beats suppression. The dedup window
// precedes the quota so an error storm from one bug consumes at most
// one quota unit. The AI check runs last because it is the most
// expensive gate.
//
// Every terminal state yields a distinct Result; no failure inside
// Route ever propagates to the caller.
//
// # Thread Safety
//
// Safe for concurrent use. Each stateful collaborator synchronizes
// itself; no lock is held across an outbound call.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTriage/services/triage/activework"
	"github.com/AleutianAI/AleutianTriage/services/triage/analyzer"
	"github.com/AleutianAI/AleutianTriage/services/triage/dedup"
	"github.com/AleutianAI/AleutianTriage/services/triage/devin"
	"github.com/AleutianAI/AleutianTriage/services/triage/history"
	"github.com/AleutianAI/AleutianTriage/services/triage/observability"
	"github.com/AleutianAI/AleutianTriage/services/triage/prompt"
	"github.com/AleutianAI/AleutianTriage/services/triage/quota"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
	"github.com/AleutianAI/AleutianTriage/services/triage/sanitize"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Dispatcher creates repair sessions. Implemented by devin.Client.
type Dispatcher interface {
	Configured() bool
	CreateSession(ctx context.Context, prompt, repo string) (*devin.Session, error)
}

// Classifier judges whether an error duplicates active work.
// Implemented by analyzer.Analyzer. Analyze never fails; degraded
// verdicts carry FallbackUsed.
type Classifier interface {
	Analyze(ctx context.Context, e report.ErrorReport, work []activework.Item) *analyzer.RootCauseAnalysis
}

// Inspector enumerates active repair work. Implemented by
// activework.Inspector.
type Inspector interface {
	Collect(ctx context.Context, repo string) []activework.Item
}

// =============================================================================
// Router
// =============================================================================

// Deps wires the router's collaborators. Dispatcher is effectively
// required (without it every dispatch fails as unconfigured); the rest
// are optional and default as documented on New.
type Deps struct {
	Dispatcher Dispatcher
	Classifier Classifier
	Inspector  Inspector
	History    *history.Store
	Sanitizer  *sanitize.Sanitizer
	Prompts    *prompt.Builder
	Metrics    *observability.TriageMetrics
	Logger     *slog.Logger
}

// Router is the pipeline orchestrator. Construct with New; the zero
// value is not usable.
//
// # Thread Safety
//
// Safe for concurrent use.
type Router struct {
	dispatcher Dispatcher
	classifier Classifier
	inspector  Inspector
	history    *history.Store
	sanitizer  *sanitize.Sanitizer
	prompts    *prompt.Builder
	quota      *quota.HourlyLimiter
	window     *dedup.Window
	metrics    *observability.TriageMetrics
	logger     *slog.Logger

	cfg   configHolder
	stats statsCounters
}

// New creates a Router.
//
// # Description
//
// Normalizes and validates cfg, then assembles the pipeline. Nil deps
// fall back to: a fresh in-memory history store, the default
// sanitizer, a prompt builder bound to cfg.DefaultRepo, and
// slog.Default(). A nil Classifier (or EnableAIAnalysis=false) skips
// the AI gate entirely; a nil Metrics records nothing.
//
// # Outputs
//
//   - *Router: Ready to route.
//   - error: Non-nil if cfg fails validation.
func New(cfg Config, deps Deps) (*Router, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router config: %w", err)
	}

	hist := deps.History
	if hist == nil {
		var err error
		hist, err = history.NewStore()
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
	}
	hist.SetCooldown(cfg.Cooldown)

	sani := deps.Sanitizer
	if sani == nil {
		sani = sanitize.Default()
	}
	prompts := deps.Prompts
	if prompts == nil {
		prompts = prompt.New(cfg.DefaultRepo)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		dispatcher: deps.Dispatcher,
		classifier: deps.Classifier,
		inspector:  deps.Inspector,
		history:    hist,
		sanitizer:  sani,
		prompts:    prompts,
		quota:      quota.NewHourlyLimiter(cfg.MaxRequestsPerHour),
		window:     dedup.NewWindow(cfg.DedupWindow),
		metrics:    deps.Metrics,
		logger:     logger,
	}
	r.cfg.store(cfg)
	r.stats.skipped = make(map[SkipReason]int64)
	return r, nil
}

// Config returns the live configuration.
func (r *Router) Config() Config {
	return r.cfg.load()
}

// UpdateConfig applies a partial configuration change.
//
// # Description
//
// Overlays u on the current configuration, validates the merged
// result, and swaps it in. Quota, dedup window, and cooldown changes
// take effect on the running components immediately. On any error the
// previous configuration stays in force.
func (r *Router) UpdateConfig(u ConfigUpdate) (Config, error) {
	cfg := r.cfg.load()
	if err := u.apply(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config update: %w", err)
	}
	r.ApplyConfig(cfg)
	return cfg, nil
}

// ApplyConfig replaces the whole configuration. Used by the config
// file watcher; cfg must already be normalized and valid.
func (r *Router) ApplyConfig(cfg Config) {
	r.cfg.store(cfg)
	r.quota.SetMax(cfg.MaxRequestsPerHour)
	r.window.SetSpan(cfg.DedupWindow)
	r.history.SetCooldown(cfg.Cooldown)
	r.logger.Info("configuration updated",
		"enable_devin", cfg.EnableDevin,
		"min_severity", cfg.MinSeverity,
		"enable_ai_analysis", cfg.EnableAIAnalysis)
}

// History exposes the cooldown/history store so the service surface
// can record merges and cancellations.
func (r *Router) History() *history.Store {
	return r.history
}

// Stats returns a snapshot of routing activity.
func (r *Router) Stats() Stats {
	cfg := r.cfg.load()
	now := time.Now()
	hs := r.history.Stats()

	s := Stats{
		DevinEnabled:      cfg.EnableDevin,
		AIAnalysisEnabled: cfg.EnableAIAnalysis,
		MinSeverity:       cfg.MinSeverity,
		QuotaUsed:         r.quota.Used(now),
		QuotaRemaining:    r.quota.Remaining(now),
		ActiveSessions:    hs.ActiveSessions,
		ResolvedErrors:    hs.ResolvedErrors,
		TrackedErrors:     hs.TrackedErrors,
	}
	r.stats.snapshotInto(&s)
	return s
}

// =============================================================================
// Route
// =============================================================================

// Route runs one error through the pipeline.
//
// # Description
//
// Returns a Result for every input; helper failures (including panics)
// become Result{Success: false, Error: ...} rather than escaping to
// the caller. Cancellation of ctx aborts the outbound calls and yields
// an error result without recording an attempt.
//
// # Inputs
//
//   - ctx: Deadline/cancellation for the outbound HTTP calls.
//   - e: The error to triage. An empty severity ranks as ERROR.
func (r *Router) Route(ctx context.Context, e report.ErrorReport) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic during routing",
				"panic", rec,
				"category", e.Category,
				"event", e.Event)
			r.stats.bumpFailed()
			r.metrics.RecordRouted(observability.OutcomeFailed)
			res = Result{Success: false, Error: fmt.Sprintf("internal error: %v", rec)}
		}
	}()
	return r.route(ctx, e)
}

func (r *Router) route(ctx context.Context, e report.ErrorReport) Result {
	ctx, span := otel.Tracer("router").Start(ctx, "router.Router.Route",
		trace.WithAttributes(
			attribute.String("category", e.Category),
			attribute.String("event", e.Event),
			attribute.String("severity", string(e.Severity)),
		))
	defer span.End()

	e.EnsureDefaults()
	cfg := r.cfg.load()
	r.stats.bumpTotal()

	// Gate: severity threshold.
	if !e.Severity.AtLeast(cfg.MinSeverity) {
		r.logger.Info("skipping error below severity threshold",
			"severity", e.Severity,
			"min_severity", cfg.MinSeverity)
		return r.skip(span, SkipSeverity, Result{
			SkippedReason: fmt.Sprintf("Severity %s below threshold %s", e.Severity, cfg.MinSeverity),
		})
	}

	// Gate: feature switches.
	if !cfg.EnableDevin {
		r.logger.Info("routing disabled by configuration")
		return r.skip(span, SkipDisabled, Result{
			SkippedReason: "Devin integration is disabled",
		})
	}
	if AutoReviewDisabled() {
		r.logger.Info("routing disabled by environment",
			"env", EnvDisableAutoReview)
		return r.skip(span, SkipDisabled, Result{
			SkippedReason: "Devin auto-review is disabled via DISABLE_DEVIN_AUTO_REVIEW",
		})
	}

	// Configuration errors: no credentials, malformed target repo.
	if r.dispatcher == nil || !r.dispatcher.Configured() {
		return r.fail(span, Result{Error: "No Devin API key configured"}, nil)
	}
	repo := e.SourceRepo
	if repo == "" {
		repo = cfg.DefaultRepo
	}
	if repo != "" && !report.ValidRepoSlug(repo) {
		return r.fail(span, Result{Error: fmt.Sprintf("Invalid repo format: %s", repo)}, nil)
	}

	fp := e.Fingerprint()
	span.SetAttributes(attribute.String("fingerprint", e.ShortFingerprint()))
	now := time.Now()

	// Gate: post-merge cooldown.
	if cooling, endsAt, prURL := r.history.CheckCooldown(fp, now); cooling {
		if prURL == "" {
			prURL = "PR URL not available"
		}
		r.logger.Info("error in post-merge cooldown",
			"fingerprint", e.ShortFingerprint(),
			"ends_at", endsAt)
		return r.skip(span, SkipCooldown, Result{
			Success:        true,
			InCooldown:     true,
			CooldownEndsAt: &endsAt,
			SkippedReason: fmt.Sprintf(
				"PR merge cooldown active until %s. A fix was recently merged (%s). "+
					"Waiting for production deployment to complete.",
				endsAt.Format(time.RFC3339), prURL),
		})
	}

	// Gate: active repair session.
	if sid, ok := r.history.ActiveSession(fp); ok {
		r.logger.Info("linking to active repair session",
			"fingerprint", e.ShortFingerprint(),
			"session_id", sid)
		return r.linked(span, Result{
			Success:          true,
			LinkedToExisting: true,
			SessionID:        sid,
			SessionURL:       fmt.Sprintf("%s/sessions/%s", devin.DefaultSessionHost, sid),
			SkippedReason:    fmt.Sprintf("Active session %s already working on this error", sid),
		})
	}

	// Gate: dedup window.
	if r.window.Seen(fp, now) {
		r.logger.Debug("duplicate fingerprint within dedup window",
			"fingerprint", e.ShortFingerprint())
		return r.skip(span, SkipDuplicateWindow, Result{
			SkippedReason: "Duplicate error within deduplication window",
		})
	}

	// Gate: hourly quota.
	if !r.quota.Allow(now) {
		r.logger.Warn("hourly dispatch quota exhausted",
			"max_per_hour", cfg.MaxRequestsPerHour)
		r.metrics.SetQuotaRemaining(0)
		return r.skip(span, SkipRateLimit, Result{
			SkippedReason: "Rate limit exceeded",
		})
	}
	r.metrics.SetQuotaRemaining(r.quota.Remaining(now))

	// Gate: AI duplicate check. Degraded verdicts fail open toward
	// dispatch; only a confident duplicate verdict stops the error.
	analysis := r.analyze(ctx, cfg, e, repo)
	if analysis != nil && analysis.IsDuplicateOfActiveWork {
		title := "Active work item"
		if analysis.MatchingActiveWork != nil && analysis.MatchingActiveWork.Title != "" {
			title = analysis.MatchingActiveWork.Title
		}
		r.logger.Info("AI judged error duplicate of active work",
			"fingerprint", e.ShortFingerprint(),
			"matching_title", title,
			"confidence", analysis.Confidence)
		return r.skip(span, SkipAIDuplicate, Result{
			LinkedToExisting: true,
			Error:            fmt.Sprintf("Duplicate of active work: %s. Reasoning: %s", title, analysis.Reasoning),
			AIAnalysis:       analysis,
		})
	}
	if analysis != nil && !analysis.FallbackUsed {
		e = e.Clone()
		if e.Context == nil {
			e.Context = make(map[string]any)
		}
		e.Context["ai_analysis"] = analysis.ContextPayload()
	}

	return r.dispatch(ctx, span, e, fp, repo, analysis)
}

// analyze runs the AI duplicate check when it is enabled and wired.
// Returns nil when the gate is off.
func (r *Router) analyze(ctx context.Context, cfg Config, e report.ErrorReport, repo string) *analyzer.RootCauseAnalysis {
	if !cfg.EnableAIAnalysis || r.classifier == nil {
		return nil
	}

	var work []activework.Item
	if r.inspector != nil {
		work = r.inspector.Collect(ctx, repo)
	}

	started := time.Now()
	analysis := r.classifier.Analyze(ctx, e, work)
	r.metrics.RecordAnalysis(time.Since(started).Seconds(), analysis.FallbackUsed)
	if analysis.FallbackUsed {
		r.logger.Warn("AI analysis degraded, failing open toward dispatch",
			"fingerprint", e.ShortFingerprint(),
			"reason", analysis.Reasoning)
	}
	return analysis
}

// dispatch sanitizes the error, builds the repair prompt, creates the
// session, and records the attempt. All gates have already passed.
func (r *Router) dispatch(ctx context.Context, span trace.Span, e report.ErrorReport, fp, repo string, analysis *analyzer.RootCauseAnalysis) Result {
	sanitized := r.sanitizer.Report(e)
	h := r.history.History(fp)
	promptText := r.prompts.Build(fp, sanitized, h)
	if h.HasHistory {
		r.logger.Info("building prompt with historical context",
			"fingerprint", e.ShortFingerprint(),
			"previous_attempts", len(h.Attempts))
	}

	started := time.Now()
	session, err := r.dispatcher.CreateSession(ctx, promptText, repo)
	r.metrics.RecordDispatch(time.Since(started).Seconds(), err == nil)
	if err != nil {
		r.logger.Error("repair dispatch failed",
			"fingerprint", e.ShortFingerprint(),
			"error", err)
		return r.fail(span, Result{Error: err.Error(), AIAnalysis: analysis}, err)
	}

	r.history.RecordAttempt(fp, session.SessionID, session.URL, time.Now())
	r.metrics.SetActiveSessions(r.history.Stats().ActiveSessions)

	r.logger.Info("repair session created",
		"fingerprint", e.ShortFingerprint(),
		"session_id", session.SessionID,
		"session_url", session.URL,
		"with_history", h.HasHistory)

	r.stats.bumpDispatched()
	r.metrics.RecordRouted(observability.OutcomeDispatched)
	span.SetAttributes(
		attribute.String("outcome", "dispatched"),
		attribute.String("session_id", session.SessionID),
	)
	return Result{
		Success:              true,
		NotificationID:       uuid.NewString(),
		SessionID:            session.SessionID,
		SessionURL:           session.URL,
		HasHistoricalContext: h.HasHistory && len(h.Attempts) > 0,
		AIAnalysis:           analysis,
	}
}

// =============================================================================
// Terminal-State Helpers
// =============================================================================

func (r *Router) skip(span trace.Span, reason SkipReason, res Result) Result {
	r.stats.bumpSkipped(reason)
	r.metrics.RecordRouted(observability.OutcomeSkipped)
	r.metrics.RecordSkip(string(reason))
	span.SetAttributes(
		attribute.String("outcome", "skipped"),
		attribute.String("skip_reason", string(reason)),
	)
	return res
}

func (r *Router) linked(span trace.Span, res Result) Result {
	r.stats.bumpLinked()
	r.metrics.RecordRouted(observability.OutcomeLinked)
	span.SetAttributes(attribute.String("outcome", "linked"))
	return res
}

func (r *Router) fail(span trace.Span, res Result, err error) Result {
	r.stats.bumpFailed()
	r.metrics.RecordRouted(observability.OutcomeFailed)
	span.SetAttributes(attribute.String("outcome", "failed"))
	if err != nil {
		span.RecordError(err)
	}
	return res
}

// =============================================================================
// Internal State
// =============================================================================

// configHolder guards the live configuration.
type configHolder struct {
	mu  sync.RWMutex
	cfg Config
}

func (h *configHolder) load() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *configHolder) store(cfg Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// statsCounters tracks terminal states under one small lock.
type statsCounters struct {
	mu         sync.Mutex
	total      int64
	dispatched int64
	linked     int64
	failed     int64
	skipped    map[SkipReason]int64
}

func (c *statsCounters) bumpTotal() {
	c.mu.Lock()
	c.total++
	c.mu.Unlock()
}

func (c *statsCounters) bumpDispatched() {
	c.mu.Lock()
	c.dispatched++
	c.mu.Unlock()
}

func (c *statsCounters) bumpLinked() {
	c.mu.Lock()
	c.linked++
	c.mu.Unlock()
}

func (c *statsCounters) bumpFailed() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

func (c *statsCounters) bumpSkipped(reason SkipReason) {
	c.mu.Lock()
	if c.skipped == nil {
		c.skipped = make(map[SkipReason]int64)
	}
	c.skipped[reason]++
	c.mu.Unlock()
}

func (c *statsCounters) snapshotInto(s *Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.TotalRouted = c.total
	s.Dispatched = c.dispatched
	s.LinkedToExisting = c.linked
	s.Failed = c.failed
	s.Skipped = make(map[SkipReason]int64, len(c.skipped))
	for k, v := range c.skipped {
		s.Skipped[k] = v
	}
}
