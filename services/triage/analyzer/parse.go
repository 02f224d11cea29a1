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

	"github.com/AleutianAI/AleutianTriage/services/triage/activework"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// ExtractJSON pulls the first JSON object out of model output.
// Handles clean JSON, fenced blocks (with or without a language tag),
// and prose surrounding the object. Brace matching respects string
// literals and escapes.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty response")
	}

	// Prefer a fenced block when one exists.
	if fenced, ok := extractFenced(text); ok {
		text = fenced
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("invalid JSON in response")
				}
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// extractFenced returns the content of the first ``` fence, tolerating
// a json language tag in any case.
func extractFenced(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]

	// Drop the language tag line if present.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// parseAnalysis decodes the model's verdict, tolerating missing or
// mistyped fields the way the schema promises defaults. A response
// with no recoverable JSON object yields the parse-failure fallback.
func parseAnalysis(text string, work []activework.Item) *RootCauseAnalysis {
	jsonText, err := ExtractJSON(text)
	if err != nil {
		return parseFailure(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return parseFailure(err)
	}

	a := &RootCauseAnalysis{
		RootCause:               stringField(parsed, "rootCause", "Unknown root cause"),
		Category:                validCategory(stringField(parsed, "category", "")),
		Severity:                report.ParseSeverity(stringField(parsed, "severity", "")),
		AffectedComponents:      stringListField(parsed, "affectedComponents"),
		SuggestedAction:         stringField(parsed, "suggestedAction", "Manual review required"),
		IsDuplicateOfActiveWork: boolField(parsed, "isDuplicateOfActiveWork"),
		Confidence:              confidenceField(parsed),
		Reasoning:               stringField(parsed, "reasoning", "No reasoning provided"),
	}

	if id := stringField(parsed, "matchingActiveWorkId", ""); id != "" && a.IsDuplicateOfActiveWork {
		for i := range work {
			if work[i].ID == id {
				match := work[i]
				a.MatchingActiveWork = &match
				break
			}
		}
	}
	return a
}

func parseFailure(err error) *RootCauseAnalysis {
	a := fallbackAnalysis("Failed to parse AI analysis",
		fmt.Sprintf("Parse error: %v", err))
	return a
}

// =============================================================================
// Field extraction
// =============================================================================

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringListField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// confidenceField validates confidence into [0, 1], falling back to
// 0.5 for missing, mistyped, or out-of-range values.
func confidenceField(m map[string]any) float64 {
	v, ok := m["confidence"].(float64)
	if !ok || v < 0 || v > 1 {
		return 0.5
	}
	return v
}

// validCategory normalizes a category name against the fixed set,
// falling back to OTHER.
func validCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CategorySecurity, CategoryFunctional, CategoryDataIntegrity,
		CategoryUserExperience, CategoryPerformance, CategoryOther:
		return c
	}
	return CategoryOther
}
