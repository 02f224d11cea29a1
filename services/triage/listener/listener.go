// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package listener adapts agent-platform monitoring events into error
// reports.
//
// # Description
//
// Host processes that embed the triage pipeline hang a Listener off
// their monitoring hooks: error observations from the agent's event
// stream and failed session starts become ErrorReports and flow
// through the router. A monitoring hook must never disturb the host,
// so every entry point swallows failures; at worst an event goes
// unreported.
//
// # Thread Safety
//
// Safe for concurrent use.
package listener

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/report"
	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

// Reporter routes one report under a deadline. Implemented by
// router.Router.
type Reporter interface {
	RouteSync(e report.ErrorReport, timeout time.Duration) router.Result
}

// ErrorObservation is an error event from the host's event stream.
type ErrorObservation struct {
	// Content is the observed error text.
	Content string

	// ErrorID is the host's identifier for this error class, if any.
	ErrorID string

	// Kind tags the observation type in the host's taxonomy.
	Kind string
}

// Config configures a Listener.
type Config struct {
	// Reporter receives the converted reports. A nil Reporter turns
	// every hook into a no-op.
	Reporter Reporter

	// Timeout bounds each report. Zero uses the reporter's own
	// default.
	Timeout time.Duration

	Logger *slog.Logger
}

// Listener converts monitoring events into routed error reports.
type Listener struct {
	reporter Reporter
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Listener.
func New(cfg Config) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		reporter: cfg.Reporter,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// OnErrorObservation reports an error observed in the agent's event
// stream.
func (l *Listener) OnErrorObservation(obs ErrorObservation) {
	l.report(report.ErrorReport{
		Category: "agent_error",
		Event:    "error_observation",
		Message:  obs.Content,
		Context: map[string]any{
			"error_id":         obs.ErrorID,
			"observation_type": obs.Kind,
		},
		Severity: report.SeverityError,
	})
}

// OnSessionStart tracks an agent session start. Successful starts are
// ignored; failures are reported with the startup duration.
func (l *Listener) OnSessionStart(success bool, duration time.Duration) {
	if success {
		return
	}
	l.report(report.ErrorReport{
		Category: "agent_session",
		Event:    "start_failure",
		Message:  fmt.Sprintf("Agent session failed to start after %.2f seconds", duration.Seconds()),
		Context: map[string]any{
			"duration_seconds": duration.Seconds(),
			"success":          success,
		},
		Severity: report.SeverityError,
	})
}

// report hands one report to the reporter. Failures never escape to
// the host.
func (l *Listener) report(e report.ErrorReport) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("monitoring report panicked",
				"panic", rec,
				"category", e.Category,
				"event", e.Event)
		}
	}()

	if l.reporter == nil {
		return
	}

	res := l.reporter.RouteSync(e, l.timeout)
	switch {
	case res.Success:
		l.logger.Info("error reported for repair",
			"category", e.Category,
			"session_url", res.SessionURL)
	case res.SkippedReason != "":
		l.logger.Debug("error report skipped",
			"category", e.Category,
			"reason", res.SkippedReason)
	case res.Error != "":
		l.logger.Warn("failed to report error",
			"category", e.Category,
			"error", res.Error)
	}
}
