// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt renders the escalation text sent to the repair
// service: the error's facts in fixed section order, a recurring-error
// preamble when the fingerprint has prior attempts, a fixed
// instruction footer, and the fingerprint marker the webhook handler
// later reads back out of merged PR bodies.
//
// The builder expects an already-sanitized report; it never redacts.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/history"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// FingerprintMarker prefixes the correlation line embedded in every
// prompt. Repair sessions are asked to carry the line into their PR
// description verbatim, which lets the merge webhook map a PR back to
// its fingerprint.
const FingerprintMarker = "Error-Fingerprint:"

// maxHistoryAttempts caps how many prior attempts the recurring-error
// preamble lists.
const maxHistoryAttempts = 5

// Builder renders repair prompts. Stateless apart from the default
// repository name used in the opening line.
type Builder struct {
	repo string
}

// New creates a Builder. defaultRepo names the repository mentioned in
// the prompt's opening line when the report carries no SourceRepo;
// empty is allowed and drops the phrase.
func New(defaultRepo string) *Builder {
	return &Builder{repo: defaultRepo}
}

// Build renders the full prompt for one error. fp is the routing
// fingerprint of the original (pre-sanitization) report; e must
// already be sanitized. When h has history, a recurring-error
// preamble leads the prompt.
func (b *Builder) Build(fp string, e report.ErrorReport, h history.ErrorHistory) string {
	var sb strings.Builder

	if h.HasHistory {
		writeHistoryPreamble(&sb, h)
	}
	b.writeErrorBody(&sb, e)
	writeInstructions(&sb)
	writeMarker(&sb, fp)

	return sb.String()
}

// =============================================================================
// Sections
// =============================================================================

func writeHistoryPreamble(sb *strings.Builder, h history.ErrorHistory) {
	sb.WriteString("## WARNING: RECURRING ERROR - HISTORICAL CONTEXT\n")
	fmt.Fprintf(sb, "This error has occurred **%d times** ", h.TotalOccurrences)
	if !h.FirstSeen.IsZero() {
		fmt.Fprintf(sb, "since %s.\n\n", h.FirstSeen.Format("2006-01-02"))
	} else {
		sb.WriteString("previously.\n\n")
	}

	if len(h.Attempts) > 0 {
		sb.WriteString("### Previous Fix Attempts\n")
		sb.WriteString("The following repair sessions have attempted to fix this error:\n\n")
		for _, a := range recentAttempts(h.Attempts) {
			writeAttempt(sb, a)
		}

		sb.WriteString("### IMPORTANT INSTRUCTIONS\n")
		sb.WriteString("1. **Review the previous sessions** linked above to understand what was tried before\n")
		sb.WriteString("2. **Do NOT repeat the same approach** if it didn't work\n")
		sb.WriteString("3. **Try a different strategy** - the previous fix may have been incomplete\n")
		sb.WriteString("4. **Consider deeper investigation** - this recurring error may indicate a fundamental issue\n")
		sb.WriteString("5. **Document your approach** in the PR description so future sessions can learn from it\n")
	}
	sb.WriteString("\n")
}

// recentAttempts returns the up-to-five most recent attempts, oldest
// of those first. The input slice is append-ordered.
func recentAttempts(attempts []history.Attempt) []history.Attempt {
	if len(attempts) > maxHistoryAttempts {
		attempts = attempts[len(attempts)-maxHistoryAttempts:]
	}
	return attempts
}

func writeAttempt(sb *strings.Builder, a history.Attempt) {
	ref := a.SessionURL
	if ref == "" {
		ref = a.SessionID
	}
	fmt.Fprintf(sb, "**Session:** %s\n", ref)
	fmt.Fprintf(sb, "- Status: %s\n", a.Status)
	if a.PRURL != "" {
		fmt.Fprintf(sb, "- PR: %s\n", a.PRURL)
	}
	if !a.ResolvedAt.IsZero() {
		fmt.Fprintf(sb, "- Resolved: %s\n", a.ResolvedAt.Format("2006-01-02"))
	}
	if a.Notes != "" {
		fmt.Fprintf(sb, "- Notes: %s\n", a.Notes)
	}
	sb.WriteString("\n")
}

func (b *Builder) writeErrorBody(sb *strings.Builder, e report.ErrorReport) {
	repo := e.SourceRepo
	if repo == "" {
		repo = b.repo
	}
	if repo != "" {
		fmt.Fprintf(sb, "Please analyze and fix the following runtime error in the %s repository:\n\n", repo)
	} else {
		sb.WriteString("Please analyze and fix the following runtime error:\n\n")
	}

	fmt.Fprintf(sb, "**Error Category:** %s\n", e.Category)
	fmt.Fprintf(sb, "**Event:** %s\n", e.Event)
	fmt.Fprintf(sb, "**Message:** %s\n", e.Message)
	if e.CodeLocation != "" {
		fmt.Fprintf(sb, "**Code Location:** %s\n", e.CodeLocation)
	}

	if e.StackTrace != "" {
		fmt.Fprintf(sb, "\n**Stack Trace:**\n```\n%s\n```\n", e.StackTrace)
	}

	if len(e.Context) > 0 {
		if raw, err := json.MarshalIndent(e.Context, "", "  "); err == nil {
			fmt.Fprintf(sb, "\n**Additional Context:**\n```json\n%s\n```\n", raw)
		}
	}
}

func writeInstructions(sb *strings.Builder) {
	sb.WriteString(`
**Instructions:**
1. Analyze the error and identify the root cause
2. Implement a fix that addresses the issue
3. Ensure the fix doesn't introduce new bugs or break existing functionality
4. Add appropriate error handling if needed
5. Create a PR with the fix

Please focus on creating a robust, production-ready fix.
`)
}

func writeMarker(sb *strings.Builder, fp string) {
	sb.WriteString("\nInclude the following line verbatim in the PR description so the fix can be matched back to this error:\n")
	fmt.Fprintf(sb, "%s %s\n", FingerprintMarker, fp)
}

// ExtractFingerprint scans free text (typically a PR body) for the
// marker line and returns the fingerprint it carries. Returns false
// when no marker is present.
func ExtractFingerprint(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, FingerprintMarker)
		if !ok {
			continue
		}
		fp := strings.TrimSpace(rest)
		if isHex(fp) && len(fp) >= 8 {
			return fp, true
		}
	}
	return "", false
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
