// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/history"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

func sampleReport() report.ErrorReport {
	return report.ErrorReport{
		Category:     "agent_error",
		Event:        "error_observation",
		Message:      "connection timed out",
		StackTrace:   "goroutine 1 [running]:\nmain.run()\n\t/srv/app/main.go:42",
		CodeLocation: "main.go:42",
		Context:      map[string]any{"attempt": float64(3)},
		Severity:     report.SeverityError,
		SourceRepo:   "acme/agent",
	}
}

const sampleFP = "a3f8c2d4e5b6a7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2"

func TestBuild_SectionOrder(t *testing.T) {
	b := New("acme/platform")
	out := b.Build(sampleFP, sampleReport(), history.ErrorHistory{})

	wantInOrder := []string{
		"Please analyze and fix the following runtime error in the acme/agent repository:",
		"**Error Category:** agent_error",
		"**Event:** error_observation",
		"**Message:** connection timed out",
		"**Code Location:** main.go:42",
		"**Stack Trace:**",
		"goroutine 1 [running]:",
		"**Additional Context:**",
		`"attempt": 3`,
		"**Instructions:**",
		"Create a PR with the fix",
		FingerprintMarker + " " + sampleFP,
	}

	last := -1
	for _, want := range wantInOrder {
		idx := strings.Index(out, want)
		if idx < 0 {
			t.Fatalf("prompt missing %q\n---\n%s", want, out)
		}
		if idx < last {
			t.Errorf("section %q out of order", want)
		}
		last = idx
	}
}

func TestBuild_OptionalSectionsOmitted(t *testing.T) {
	e := sampleReport()
	e.StackTrace = ""
	e.CodeLocation = ""
	e.Context = nil

	out := New("").Build(sampleFP, e, history.ErrorHistory{})

	for _, absent := range []string{"**Stack Trace:**", "**Code Location:**", "**Additional Context:**"} {
		if strings.Contains(out, absent) {
			t.Errorf("prompt contains %q for empty field", absent)
		}
	}
}

func TestBuild_RepoSelection(t *testing.T) {
	tests := []struct {
		name        string
		defaultRepo string
		sourceRepo  string
		wantOpening string
	}{
		{"report repo wins", "acme/platform", "acme/agent",
			"runtime error in the acme/agent repository:"},
		{"default repo fallback", "acme/platform", "",
			"runtime error in the acme/platform repository:"},
		{"no repo at all", "", "",
			"Please analyze and fix the following runtime error:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleReport()
			e.SourceRepo = tt.sourceRepo
			out := New(tt.defaultRepo).Build(sampleFP, e, history.ErrorHistory{})
			if !strings.Contains(out, tt.wantOpening) {
				t.Errorf("opening line missing %q", tt.wantOpening)
			}
		})
	}
}

func TestBuild_HistoryPreamble(t *testing.T) {
	firstSeen := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var attempts []history.Attempt
	for i := 1; i <= 7; i++ {
		attempts = append(attempts, history.Attempt{
			SessionID:  fmt.Sprintf("sess-%d", i),
			SessionURL: fmt.Sprintf("https://app.devin.ai/sessions/sess-%d", i),
			Status:     history.StatusCancelled,
		})
	}
	h := history.ErrorHistory{
		HasHistory:       true,
		Attempts:         attempts,
		TotalOccurrences: 7,
		FirstSeen:        firstSeen,
	}

	out := New("acme/platform").Build(sampleFP, sampleReport(), h)

	if !strings.Contains(out, "## WARNING: RECURRING ERROR - HISTORICAL CONTEXT") {
		t.Fatal("recurring-error heading missing")
	}
	if !strings.Contains(out, "occurred **7 times** since 2025-03-14.") {
		t.Error("occurrence count or first-seen date missing")
	}
	if !strings.Contains(out, "### IMPORTANT INSTRUCTIONS") {
		t.Error("instruction block missing")
	}

	// Only the five most recent attempts are listed.
	if strings.Contains(out, "sess-1\n") || strings.Contains(out, "sess-2\n") {
		t.Error("oldest attempts leaked into preamble")
	}
	for i := 3; i <= 7; i++ {
		if !strings.Contains(out, fmt.Sprintf("sessions/sess-%d", i)) {
			t.Errorf("attempt sess-%d missing from preamble", i)
		}
	}

	// Preamble leads the prompt.
	if strings.Index(out, "## WARNING") > strings.Index(out, "Please analyze") {
		t.Error("preamble does not precede the error body")
	}
}

func TestBuild_HistoryWithoutFirstSeen(t *testing.T) {
	h := history.ErrorHistory{HasHistory: true, TotalOccurrences: 2}
	out := New("").Build(sampleFP, sampleReport(), h)
	if !strings.Contains(out, "occurred **2 times** previously.") {
		t.Error("missing 'previously.' phrasing for unknown first-seen")
	}
}

func TestBuild_AttemptDetails(t *testing.T) {
	resolved := time.Date(2025, 4, 2, 16, 30, 0, 0, time.UTC)
	h := history.ErrorHistory{
		HasHistory:       true,
		TotalOccurrences: 1,
		Attempts: []history.Attempt{{
			SessionID:  "sess-9",
			SessionURL: "https://app.devin.ai/sessions/sess-9",
			PRURL:      "https://github.com/acme/agent/pull/12",
			Status:     history.StatusResolved,
			ResolvedAt: resolved,
			Notes:      "patched retry loop",
		}},
	}

	out := New("").Build(sampleFP, sampleReport(), h)

	for _, want := range []string{
		"**Session:** https://app.devin.ai/sessions/sess-9",
		"- Status: resolved",
		"- PR: https://github.com/acme/agent/pull/12",
		"- Resolved: 2025-04-02",
		"- Notes: patched retry loop",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("attempt rendering missing %q", want)
		}
	}
}

func TestExtractFingerprint(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		wantFP string
		wantOK bool
	}{
		{"plain marker line", "fix stuff\n\nError-Fingerprint: " + sampleFP, sampleFP, true},
		{"indented marker", "  Error-Fingerprint:  " + sampleFP + "  ", sampleFP, true},
		{"no marker", "just a PR body", "", false},
		{"marker with junk value", "Error-Fingerprint: not-hex!", "", false},
		{"marker too short", "Error-Fingerprint: ab12", "", false},
		{"empty text", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, ok := ExtractFingerprint(tt.text)
			if ok != tt.wantOK || fp != tt.wantFP {
				t.Errorf("ExtractFingerprint() = %q, %v; want %q, %v", fp, ok, tt.wantFP, tt.wantOK)
			}
		})
	}
}

func TestExtractFingerprint_RoundTrip(t *testing.T) {
	out := New("acme/platform").Build(sampleFP, sampleReport(), history.ErrorHistory{})
	fp, ok := ExtractFingerprint(out)
	if !ok || fp != sampleFP {
		t.Errorf("round trip = %q, %v; want %q, true", fp, ok, sampleFP)
	}
}
