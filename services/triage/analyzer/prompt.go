// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/activework"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// maxWorkDescription caps how much of a work item's description is
// shown to the model.
const maxWorkDescription = 500

// systemPrompt frames the model as an IT manager doing root-cause
// matching. The JSON schema in the prompt is the contract parse.go
// decodes against.
const systemPrompt = `You are an experienced IT Manager responsible for analyzing runtime errors in an AI agent software platform. Your job is to:

1. IDENTIFY THE ROOT CAUSE: Analyze the error and determine the underlying root cause, not just the surface-level symptom.

2. COMPARE WITH ACTIVE WORK: You will be given a list of currently active work items (Devin sessions and open PRs). Determine if this error's root cause is ALREADY being addressed by any of these active work items.

3. MAKE A DECISION: Should this error be sent for repair, or is it already being worked on?

IMPORTANT RULES:
- Focus on ROOT CAUSE, not literal text matching. Two errors with different messages can have the same root cause.
- If an error's root cause is being addressed by active work, mark it as a duplicate.
- If an error keeps happening after a fix was merged (not in active work), it should be reported as NEW.
- Only consider ACTIVE work (open sessions, open unmerged PRs). Closed/merged work should be ignored.

Output your analysis as JSON with these fields:
{
  "rootCause": "Clear description of the underlying root cause",
  "category": "SECURITY|FUNCTIONAL|DATA_INTEGRITY|USER_EXPERIENCE|PERFORMANCE|OTHER",
  "severity": "CRITICAL|ERROR|WARNING|INFO|DEBUG",
  "affectedComponents": ["list", "of", "affected", "components"],
  "suggestedAction": "Recommended fix or investigation steps",
  "isDuplicateOfActiveWork": true/false,
  "matchingActiveWorkId": "ID of matching active work if duplicate, null otherwise",
  "confidence": 0.0-1.0,
  "reasoning": "Explanation of your analysis and decision"
}`

// buildUserPrompt assembles the per-call prompt: the formatted error
// and the formatted active-work list.
func buildUserPrompt(e report.ErrorReport, work []activework.Item) string {
	workSection := formatActiveWork(work)
	if workSection == "" {
		workSection = "No active work items found."
	}

	return fmt.Sprintf(`Please analyze this error and determine if it should be sent for repair:

**ERROR TO ANALYZE:**
%s

**CURRENTLY ACTIVE WORK (Devin sessions and open PRs):**
%s

Analyze the error's root cause and determine if it's already being addressed by any active work item. Output your analysis as JSON.`,
		formatError(e), workSection)
}

func formatError(e report.ErrorReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\n", e.Category)
	fmt.Fprintf(&sb, "Event: %s\n", e.Event)
	fmt.Fprintf(&sb, "Message: %s\n", e.Message)
	fmt.Fprintf(&sb, "Severity: %s", e.Severity)

	if e.CodeLocation != "" {
		fmt.Fprintf(&sb, "\nCode Location: %s", e.CodeLocation)
	}
	if e.StackTrace != "" {
		fmt.Fprintf(&sb, "\nStack Trace:\n%s", e.StackTrace)
	}
	if len(e.Context) > 0 {
		if raw, err := json.MarshalIndent(e.Context, "", "  "); err == nil {
			fmt.Fprintf(&sb, "\nContext: %s", raw)
		}
	}
	return sb.String()
}

func formatActiveWork(work []activework.Item) string {
	if len(work) == 0 {
		return ""
	}

	items := make([]string, 0, len(work))
	for i, w := range work {
		label := "Open PR"
		if w.Type == activework.TypeRepairSession {
			label = "Devin Session"
		}

		desc := w.Description
		if len(desc) > maxWorkDescription {
			desc = desc[:maxWorkDescription] + "..."
		}

		item := fmt.Sprintf("[%d] %s\nID: %s\nTitle: %s\nDescription: %s",
			i+1, label, w.ID, w.Title, desc)
		if !w.CreatedAt.IsZero() {
			item += fmt.Sprintf("\nCreated: %s", w.CreatedAt.Format(time.RFC3339))
		}
		items = append(items, item)
	}
	return strings.Join(items, "\n\n")
}
