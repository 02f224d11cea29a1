// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"strings"
	"testing"
)

// =============================================================================
// Severity Tests
// =============================================================================

func TestSeverity_Rank(t *testing.T) {
	tests := []struct {
		severity Severity
		want     int
	}{
		{SeverityDebug, 0},
		{SeverityInfo, 1},
		{SeverityWarning, 2},
		{SeverityError, 3},
		{SeverityCritical, 4},
		{Severity("BOGUS"), 3}, // unknown ranks as ERROR
		{Severity(""), 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			if got := tt.severity.Rank(); got != tt.want {
				t.Errorf("Rank() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSeverity_AtLeast(t *testing.T) {
	tests := []struct {
		name string
		s    Severity
		min  Severity
		want bool
	}{
		{"error meets error", SeverityError, SeverityError, true},
		{"critical exceeds error", SeverityCritical, SeverityError, true},
		{"warning below error", SeverityWarning, SeverityError, false},
		{"debug below info", SeverityDebug, SeverityInfo, false},
		{"unknown treated as error", Severity("bogus"), SeverityError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.AtLeast(tt.min); got != tt.want {
				t.Errorf("AtLeast(%s, %s) = %v, want %v", tt.s, tt.min, got, tt.want)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input string
		want  Severity
	}{
		{"error", SeverityError},
		{"CRITICAL", SeverityCritical},
		{" warning ", SeverityWarning},
		{"debug", SeverityDebug},
		{"info", SeverityInfo},
		{"", SeverityError},
		{"fatal", SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseSeverity(tt.input); got != tt.want {
				t.Errorf("ParseSeverity(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Fingerprint Tests
// =============================================================================

func TestFingerprint_KnownVectors(t *testing.T) {
	tests := []struct {
		name   string
		report ErrorReport
		want   string
	}{
		{
			name: "no code location",
			report: ErrorReport{
				Category: "agent_error",
				Event:    "timeout",
				Message:  "request took 30s",
			},
			want: "98de88cbb2536f98d6ce444677816690300711ef9e0b6c69605f2c60690eb682",
		},
		{
			name: "with code location",
			report: ErrorReport{
				Category:     "db",
				Event:        "query_failed",
				Message:      "conn lost",
				CodeLocation: "server.py:42",
			},
			want: "ce214e81912ecb7d149e2ec7195191c0f3c5a8a22e7dad2d3def245fbabfe190",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.report.Fingerprint()
			if got != tt.want {
				t.Errorf("Fingerprint() = %s, want %s", got, tt.want)
			}
			if got != strings.ToLower(got) {
				t.Error("Fingerprint() not lowercase hex")
			}
			if len(got) != 64 {
				t.Errorf("Fingerprint() length = %d, want 64", len(got))
			}
		})
	}
}

// Fingerprints must agree exactly when the four identity fields agree,
// regardless of stack trace, context, or severity.
func TestFingerprint_IdentityFields(t *testing.T) {
	base := ErrorReport{
		Category:     "agent_error",
		Event:        "timeout",
		Message:      "request took 30s",
		CodeLocation: "scheduler.go:17",
		Severity:     SeverityError,
	}

	same := base
	same.StackTrace = "goroutine 1 [running]:\nmain.main()"
	same.Context = map[string]any{"attempt": 2}
	same.Severity = SeverityCritical
	if base.Fingerprint() != same.Fingerprint() {
		t.Error("fingerprint changed with non-identity fields")
	}

	variants := []func(*ErrorReport){
		func(e *ErrorReport) { e.Category = "db" },
		func(e *ErrorReport) { e.Event = "crash" },
		func(e *ErrorReport) { e.Message = "request took 31s" },
		func(e *ErrorReport) { e.CodeLocation = "scheduler.go:18" },
		func(e *ErrorReport) { e.CodeLocation = "" },
	}
	for i, mutate := range variants {
		changed := base
		mutate(&changed)
		if base.Fingerprint() == changed.Fingerprint() {
			t.Errorf("variant %d: fingerprint unchanged after identity field mutation", i)
		}
	}
}

func TestShortFingerprint(t *testing.T) {
	e := ErrorReport{Category: "a", Event: "b", Message: "c"}
	short := e.ShortFingerprint()
	if len(short) != 8 {
		t.Fatalf("ShortFingerprint() length = %d, want 8", len(short))
	}
	if !strings.HasPrefix(e.Fingerprint(), short) {
		t.Error("ShortFingerprint() is not a prefix of Fingerprint()")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestErrorReport_Validate(t *testing.T) {
	valid := ErrorReport{
		Category:   "agent_error",
		Event:      "timeout",
		Message:    "request took 30s",
		Severity:   SeverityError,
		SourceRepo: "aleutian/triage-demo",
	}

	tests := []struct {
		name    string
		mutate  func(*ErrorReport)
		wantErr bool
	}{
		{"valid", func(e *ErrorReport) {}, false},
		{"empty severity allowed", func(e *ErrorReport) { e.Severity = "" }, false},
		{"empty repo allowed", func(e *ErrorReport) { e.SourceRepo = "" }, false},
		{"missing category", func(e *ErrorReport) { e.Category = "" }, true},
		{"missing event", func(e *ErrorReport) { e.Event = "" }, true},
		{"missing message", func(e *ErrorReport) { e.Message = "" }, true},
		{"bad severity", func(e *ErrorReport) { e.Severity = "FATAL" }, true},
		{"repo without owner", func(e *ErrorReport) { e.SourceRepo = "/name" }, true},
		{"repo without name", func(e *ErrorReport) { e.SourceRepo = "owner/" }, true},
		{"repo without slash", func(e *ErrorReport) { e.SourceRepo = "ownername" }, true},
		{"repo with extra segment", func(e *ErrorReport) { e.SourceRepo = "a/b/c" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidRepoSlug(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"owner/name", true},
		{"aleutian-ai/AleutianTriage", true},
		{"", false},
		{"owner", false},
		{"owner/", false},
		{"/name", false},
		{"a/b/c", false},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			if got := ValidRepoSlug(tt.slug); got != tt.want {
				t.Errorf("ValidRepoSlug(%q) = %v, want %v", tt.slug, got, tt.want)
			}
		})
	}
}

func TestEnsureDefaults(t *testing.T) {
	e := ErrorReport{Category: "a", Event: "b", Message: "c"}
	e.EnsureDefaults()
	if e.Severity != SeverityError {
		t.Errorf("Severity after EnsureDefaults = %s, want ERROR", e.Severity)
	}

	e.Severity = SeverityDebug
	e.EnsureDefaults()
	if e.Severity != SeverityDebug {
		t.Error("EnsureDefaults overwrote an explicit severity")
	}
}

// =============================================================================
// Clone Tests
// =============================================================================

func TestClone_DeepCopiesContext(t *testing.T) {
	original := ErrorReport{
		Category: "a",
		Event:    "b",
		Message:  "c",
		Context: map[string]any{
			"nested": map[string]any{"key": "value"},
			"list":   []any{"one", map[string]any{"two": 2}},
			"scalar": 7,
		},
	}

	clone := original.Clone()
	clone.Context["scalar"] = 99
	clone.Context["nested"].(map[string]any)["key"] = "mutated"
	clone.Context["list"].([]any)[0] = "mutated"

	if original.Context["scalar"] != 7 {
		t.Error("scalar mutated through clone")
	}
	if original.Context["nested"].(map[string]any)["key"] != "value" {
		t.Error("nested map mutated through clone")
	}
	if original.Context["list"].([]any)[0] != "one" {
		t.Error("list mutated through clone")
	}
}

func TestClone_NilContext(t *testing.T) {
	original := ErrorReport{Category: "a", Event: "b", Message: "c"}
	clone := original.Clone()
	if clone.Context != nil {
		t.Error("Clone() invented a context map")
	}
}
