// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report defines the error report datatype that enters the
// triage pipeline, its severity scale, and the content fingerprint
// used to identify an error class across the dedup, cooldown, and
// history stores.
//
// # Description
//
// An ErrorReport is produced by the host platform (or by the ingest
// endpoint) for every runtime error worth escalating. Reports are
// immutable once inside the pipeline: components that need to modify
// one (the sanitizer) operate on a Clone.
//
// The fingerprint intentionally covers only category, event, message,
// and code location. Stack traces and context maps vary between
// occurrences of the same bug, so they are excluded to make "same bug,
// different request" collapse onto one fingerprint.
//
// # Thread Safety
//
// ErrorReport values are never shared across goroutines by the
// pipeline; they flow through Route and are dropped on return.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Severity
// =============================================================================

// Severity classifies how serious a reported error is. The scale
// matches the host platform's log levels.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// severityRanks orders severities for threshold comparison.
var severityRanks = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Rank returns the numeric position of the severity on the scale.
// Unknown severities rank as ERROR so that malformed input is routed
// rather than silently dropped.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return severityRanks[SeverityError]
}

// Valid reports whether s is one of the five defined severities.
func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// AtLeast reports whether s ranks at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity normalizes a severity name. Matching is
// case-insensitive; unknown names fall back to ERROR.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Valid() {
		return sev
	}
	return SeverityError
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// reportValidate is the validator instance for report datatypes.
// Initialized in init() with custom validators.
var reportValidate *validator.Validate

func init() {
	reportValidate = validator.New()
	_ = reportValidate.RegisterValidation("reposlug", validateRepoSlug)
}

// validateRepoSlug accepts "" (no repo) or a well-formed "owner/name".
func validateRepoSlug(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == "" || ValidRepoSlug(s)
}

// ValidRepoSlug reports whether s is a well-formed "owner/name" slug
// with exactly one separator and non-empty halves.
func ValidRepoSlug(s string) bool {
	owner, name, ok := strings.Cut(s, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}

// =============================================================================
// ErrorReport
// =============================================================================

// ErrorReport describes one runtime error emitted by the host platform.
//
// # Fields
//
//   - Category: Required. Coarse error class ("agent_error", "database").
//   - Event: Required. Sub-tag within the category ("timeout",
//     "error_observation").
//   - Message: Required. Human-readable description.
//   - StackTrace: Optional. Raw stack trace; sanitized before leaving
//     the process.
//   - CodeLocation: Optional. "file:line" of the failure site.
//   - Context: Optional. String-keyed tree of scalars, maps, and lists
//     with additional detail. Sensitive keys are redacted wholesale by
//     the sanitizer.
//   - Severity: One of DEBUG, INFO, WARNING, ERROR, CRITICAL.
//     Empty defaults to ERROR via EnsureDefaults.
//   - SourceRepo: Optional. "owner/name" slug of the repository the
//     fix should land in. Overrides the router's default repo.
//
// # Validation
//
// Uses go-playground/validator:
//   - Category, Event, Message: required
//   - Severity: empty or one of the five defined values
//   - SourceRepo: empty or a well-formed owner/name slug
type ErrorReport struct {
	Category     string         `json:"category" validate:"required"`
	Event        string         `json:"event" validate:"required"`
	Message      string         `json:"message" validate:"required"`
	StackTrace   string         `json:"stack_trace,omitempty"`
	CodeLocation string         `json:"code_location,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Severity     Severity       `json:"severity" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	SourceRepo   string         `json:"source_repo,omitempty" validate:"reposlug"`
}

// Validate validates the ErrorReport fields. Call after binding JSON.
func (e *ErrorReport) Validate() error {
	return reportValidate.Struct(e)
}

// EnsureDefaults populates defaults for optional fields. An empty
// severity becomes ERROR, matching how unranked input is treated at
// the routing gate.
func (e *ErrorReport) EnsureDefaults() {
	if e.Severity == "" {
		e.Severity = SeverityError
	}
}

// Fingerprint derives the stable identity of this error class:
// lowercase-hex SHA-256 of "category:event:message:codeLocation"
// (empty string when no code location). Stack trace and context are
// deliberately excluded. This is a classifier key, not a security
// primitive.
func (e *ErrorReport) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s",
		e.Category, e.Event, e.Message, e.CodeLocation)))
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint returns the first eight hex digits of the
// fingerprint, the form used in log lines and synthetic titles.
func (e *ErrorReport) ShortFingerprint() string {
	return e.Fingerprint()[:8]
}

// Clone returns a copy of the report with a deep-copied Context, so
// the copy can be mutated (sanitized) without touching the original.
func (e *ErrorReport) Clone() ErrorReport {
	out := *e
	out.Context = deepCopyMap(e.Context)
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}
