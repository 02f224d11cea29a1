// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sanitize redacts secrets, identifiers, and machine-local
// paths from error data before it leaves the process.
//
// Every string that reaches the repair service, the classifier, or an
// external collector must pass through here first. Redaction is a
// fixed, ordered battery of compiled patterns; map sanitization
// redacts by key name, never by value.
//
// Sanitization is idempotent: replacement tokens do not re-match any
// pattern, so sanitize(sanitize(x)) == sanitize(x).
package sanitize

import (
	"regexp"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// =============================================================================
// Redaction Rules
// =============================================================================

// rule pairs one compiled pattern with its replacement token.
type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactionRules is the ordered battery applied to every string.
// Order matters: the Anthropic key shape must run before the generic
// sk- shape, and provider key shapes before the connection-string
// collapse.
var redactionRules = []rule{
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]+`), "[ANTHROPIC_KEY]"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9\-_]{20,}`), "[OPENAI_KEY]"},
	{regexp.MustCompile(`pckey_[a-zA-Z0-9\-_]+`), "[PINECONE_KEY]"},
	{regexp.MustCompile(`pa-[a-zA-Z0-9\-_]+`), "[VOYAGE_KEY]"},
	{regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "[UUID]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`), "[JWT_TOKEN]"},
	{regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN]"},
	{regexp.MustCompile(`(?i)postgres(ql)?://[^\s]+`), "[DATABASE_URL]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP_ADDRESS]"},
}

// sensitiveKeyFragments redact a context-map entry wholesale when any
// fragment appears in the lowercased key. Matching is on the key,
// never on the value.
var sensitiveKeyFragments = []string{
	"password", "secret", "token", "api_key", "apikey",
	"authorization", "cookie", "session", "user_id", "userid",
	"email", "phone", "ssn", "credit_card", "creditcard",
}

// homePathRegex collapses any /home/<user>/ prefix to ~/.
var homePathRegex = regexp.MustCompile(`/home/[^\s/]+/`)

// =============================================================================
// Sanitizer
// =============================================================================

// Config configures path collapsing for stack traces.
type Config struct {
	// ProjectRoot is the host platform's repository directory name.
	// Absolute paths up to and including this segment collapse to a
	// project-relative prefix ("/Users/x/src/aleutian/..." becomes
	// "aleutian/...").
	ProjectRoot string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{ProjectRoot: "aleutian"}
}

// Sanitizer applies the redaction battery. It is pure: no hidden
// state, fully reentrant.
//
// Thread Safety: Safe for concurrent use (stateless, compiled regex).
type Sanitizer struct {
	config           Config
	projectPathRegex *regexp.Regexp
}

// New creates a Sanitizer for the given configuration.
//
// Description:
//
//	Compiles the project-root collapse pattern at construction time;
//	the shared redaction battery is compiled once at package load.
//
// Inputs:
//
//	config - Path-collapse configuration.
//
// Outputs:
//
//	*Sanitizer - The configured sanitizer.
func New(config Config) *Sanitizer {
	if config.ProjectRoot == "" {
		config.ProjectRoot = DefaultConfig().ProjectRoot
	}
	return &Sanitizer{
		config: config,
		projectPathRegex: regexp.MustCompile(
			`/[^\s]*/` + regexp.QuoteMeta(config.ProjectRoot) + `/`),
	}
}

// Text applies the ordered redaction battery to one string.
//
// Thread Safety: Safe for concurrent use.
func (s *Sanitizer) Text(in string) string {
	out := in
	for _, r := range redactionRules {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}
	return out
}

// Detect reports whether any redaction pattern matches, without
// rewriting. Useful for metrics and logging.
func (s *Sanitizer) Detect(in string) bool {
	for _, r := range redactionRules {
		if r.pattern.MatchString(in) {
			return true
		}
	}
	return false
}

// StackTrace sanitizes a stack trace line by line, additionally
// collapsing absolute paths: anything up to and including the project
// root becomes project-relative, and /home/<user>/ becomes ~/.
func (s *Sanitizer) StackTrace(in string) string {
	lines := strings.Split(in, "\n")
	for i, line := range lines {
		line = s.Text(line)
		line = s.projectPathRegex.ReplaceAllString(line, s.config.ProjectRoot+"/")
		line = homePathRegex.ReplaceAllString(line, "~/")
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// ContextMap sanitizes an attribute map recursively. Entries whose key
// contains a sensitive fragment are replaced entirely with [REDACTED];
// string leaves pass through Text; nested maps and lists are walked;
// non-string scalars pass through unchanged. The input map is not
// modified.
func (s *Sanitizer) ContextMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		if sensitiveKey(key) {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = s.value(value)
	}
	return out
}

func (s *Sanitizer) value(v any) any {
	switch val := v.(type) {
	case string:
		return s.Text(val)
	case map[string]any:
		return s.ContextMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.value(item)
		}
		return out
	default:
		return val
	}
}

// Report returns a sanitized copy of an error report. Every string
// field is passed through the battery; the stack trace additionally
// gets path collapsing; the context map gets key-based redaction.
// The input report is not modified.
func (s *Sanitizer) Report(e report.ErrorReport) report.ErrorReport {
	out := e.Clone()
	out.Category = s.Text(out.Category)
	out.Event = s.Text(out.Event)
	out.Message = s.Text(out.Message)
	out.CodeLocation = s.Text(out.CodeLocation)
	if out.StackTrace != "" {
		out.StackTrace = s.StackTrace(out.StackTrace)
	}
	out.Context = s.ContextMap(out.Context)
	return out
}

// sensitiveKey reports whether a map key names sensitive data.
func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// =============================================================================
// Package-Level Default
// =============================================================================

var (
	defaultSanitizer     *Sanitizer
	defaultSanitizerOnce sync.Once
)

// Default returns the shared sanitizer with default configuration.
func Default() *Sanitizer {
	defaultSanitizerOnce.Do(func() {
		defaultSanitizer = New(DefaultConfig())
	})
	return defaultSanitizer
}

// QuickText sanitizes one string with the shared default sanitizer.
func QuickText(in string) string {
	return Default().Text(in)
}
