// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/analyzer"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// =============================================================================
// Skip Reasons
// =============================================================================

// SkipReason is the machine-readable label for a gate decision. The
// human-readable explanation travels on Result.SkippedReason; these
// tokens key the stats counters and metrics labels.
type SkipReason string

const (
	// SkipSeverity: the report ranks below the configured threshold.
	SkipSeverity SkipReason = "severity_below_threshold"

	// SkipDisabled: routing is switched off by config or environment.
	SkipDisabled SkipReason = "feature_disabled"

	// SkipCooldown: a fix for this fingerprint merged recently.
	SkipCooldown SkipReason = "in_cooldown"

	// SkipActiveSession: a repair session is already working on this
	// fingerprint.
	SkipActiveSession SkipReason = "active_session"

	// SkipDuplicateWindow: the same fingerprint was routed within the
	// dedup window.
	SkipDuplicateWindow SkipReason = "duplicate_window"

	// SkipRateLimit: the hourly dispatch budget is exhausted.
	SkipRateLimit SkipReason = "rate_limit"

	// SkipAIDuplicate: the classifier judged this error a duplicate of
	// active work.
	SkipAIDuplicate SkipReason = "ai_duplicate"
)

// =============================================================================
// Result
// =============================================================================

// Result reports the terminal state of one route call.
//
// # Fields
//
//   - Success: True when a session was created, when the error is in a
//     post-merge cooldown, or when it was linked to an existing
//     session; those last two are informational successes.
//   - NotificationID: Unique ID minted for each dispatched report.
//   - SessionID, SessionURL: The repair session handling this error
//     (newly created or reused).
//   - LinkedToExisting: The error was tied to work already in flight.
//   - Error: Populated on configuration or upstream failures, and on
//     AI duplicate verdicts (which explain the match).
//   - SkippedReason: Human-readable gate explanation.
//   - AIAnalysis: The classifier verdict, when the AI check ran.
//   - InCooldown, CooldownEndsAt: Set on cooldown skips.
//   - HasHistoricalContext: The dispatched prompt carried prior-attempt
//     history.
type Result struct {
	Success              bool                         `json:"success"`
	NotificationID       string                       `json:"notification_id,omitempty"`
	SessionID            string                       `json:"session_id,omitempty"`
	SessionURL           string                       `json:"session_url,omitempty"`
	LinkedToExisting     bool                         `json:"linked_to_existing"`
	Error                string                       `json:"error,omitempty"`
	SkippedReason        string                       `json:"skipped_reason,omitempty"`
	AIAnalysis           *analyzer.RootCauseAnalysis  `json:"ai_analysis,omitempty"`
	InCooldown           bool                         `json:"in_cooldown,omitempty"`
	CooldownEndsAt       *time.Time                   `json:"cooldown_ends_at,omitempty"`
	HasHistoricalContext bool                         `json:"has_historical_context,omitempty"`
}

// Dispatched reports whether this result represents a newly created
// repair session.
func (r Result) Dispatched() bool {
	return r.Success && r.SessionID != "" && !r.LinkedToExisting && !r.InCooldown
}

// =============================================================================
// Stats
// =============================================================================

// Stats is a point-in-time snapshot of routing activity and the live
// configuration, served on /v1/stats.
type Stats struct {
	DevinEnabled      bool                 `json:"devin_enabled"`
	AIAnalysisEnabled bool                 `json:"ai_analysis_enabled"`
	MinSeverity       report.Severity      `json:"min_severity"`
	TotalRouted       int64                `json:"total_routed"`
	Dispatched        int64                `json:"dispatched"`
	LinkedToExisting  int64                `json:"linked_to_existing"`
	Failed            int64                `json:"failed"`
	Skipped           map[SkipReason]int64 `json:"skipped"`
	QuotaUsed         int                  `json:"quota_used"`
	QuotaRemaining    int                  `json:"quota_remaining"`
	ActiveSessions    int                  `json:"active_sessions"`
	ResolvedErrors    int                  `json:"resolved_errors"`
	TrackedErrors     int                  `json:"tracked_errors"`
}
