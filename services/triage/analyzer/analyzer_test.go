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
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/activework"
	"github.com/AleutianAI/AleutianTriage/services/triage/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// scriptedClient replays canned completions in order, repeating the
// last entry once the script runs out.
type scriptedClient struct {
	mu         sync.Mutex
	script     []scriptStep
	calls      int
	lastSystem string
	lastUser   string
	configured bool
}

type scriptStep struct {
	text string
	err  error
}

func (c *scriptedClient) Complete(_ context.Context, system, user string, _ llm.Params) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	c.calls++
	c.lastSystem = system
	c.lastUser = user
	step := c.script[idx]
	return step.text, step.err
}

func (c *scriptedClient) Configured() bool { return c.configured }

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testReport(event string) report.ErrorReport {
	return report.ErrorReport{
		Category:     "agent_error",
		Event:        event,
		Message:      "connection refused",
		CodeLocation: "pool.go:42",
		Severity:     report.SeverityError,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func TestAnalyze_Success(t *testing.T) {
	client := &scriptedClient{
		configured: true,
		script: []scriptStep{{text: `{
			"rootCause": "stale connection reuse",
			"category": "INFRASTRUCTURE",
			"severity": "ERROR",
			"affectedComponents": ["pool"],
			"suggestedAction": "validate connections before reuse",
			"isDuplicateOfActiveWork": false,
			"confidence": 0.85,
			"reasoning": "no active work touches the pool"
		}`}},
	}
	a := New(client, fastConfig(), nil)

	got := a.Analyze(context.Background(), testReport("db_connect"), nil)

	if got.FallbackUsed {
		t.Fatal("FallbackUsed = true")
	}
	if got.RootCause != "stale connection reuse" {
		t.Errorf("RootCause = %q", got.RootCause)
	}
	if got.Category != CategoryInfrastructure {
		t.Errorf("Category = %q", got.Category)
	}
	if got.Confidence != 0.85 {
		t.Errorf("Confidence = %v", got.Confidence)
	}
	if client.callCount() != 1 {
		t.Errorf("calls = %d, want 1", client.callCount())
	}
}

func TestAnalyze_PromptContents(t *testing.T) {
	client := &scriptedClient{configured: true, script: []scriptStep{{text: `{}`}}}
	a := New(client, fastConfig(), nil)

	a.Analyze(context.Background(), testReport("db_connect"), nil)

	if !strings.Contains(client.lastSystem, "duplicate") {
		t.Error("system prompt missing duplicate-detection instruction")
	}
	if !strings.Contains(client.lastUser, "**ERROR TO ANALYZE:**") {
		t.Error("user prompt missing error header")
	}
	if !strings.Contains(client.lastUser, "connection refused") {
		t.Error("user prompt missing error message")
	}
	if !strings.Contains(client.lastUser, "No active work items found.") {
		t.Error("user prompt missing empty-work marker")
	}
}

func TestAnalyze_ActiveWorkInPrompt(t *testing.T) {
	client := &scriptedClient{configured: true, script: []scriptStep{{text: `{}`}}}
	a := New(client, fastConfig(), nil)
	work := []activework.Item{
		{Type: activework.TypeRepairSession, ID: "sess-1", Title: "Devin session sess-1"},
		{Type: activework.TypeOpenChangeRequest, ID: "7", Title: "Fix reconnect loop"},
	}

	a.Analyze(context.Background(), testReport("db_connect"), work)

	if !strings.Contains(client.lastUser, "[1] Devin Session") {
		t.Error("user prompt missing session entry")
	}
	if !strings.Contains(client.lastUser, "[2] Open PR") {
		t.Error("user prompt missing PR entry")
	}
	if !strings.Contains(client.lastUser, "Fix reconnect loop") {
		t.Error("user prompt missing PR title")
	}
	if strings.Contains(client.lastUser, "No active work items found.") {
		t.Error("empty-work marker present despite work items")
	}
}

func TestAnalyze_DuplicateVerdict(t *testing.T) {
	client := &scriptedClient{
		configured: true,
		script: []scriptStep{{text: `{
			"isDuplicateOfActiveWork": true,
			"matchingActiveWorkId": "sess-1",
			"confidence": 0.95,
			"reasoning": "identical fingerprint already in repair"
		}`}},
	}
	a := New(client, fastConfig(), nil)
	work := []activework.Item{{Type: activework.TypeRepairSession, ID: "sess-1", Title: "Devin session sess-1"}}

	got := a.Analyze(context.Background(), testReport("db_connect"), work)

	if !got.IsDuplicateOfActiveWork {
		t.Fatal("IsDuplicateOfActiveWork = false")
	}
	if got.MatchingActiveWork == nil || got.MatchingActiveWork.ID != "sess-1" {
		t.Errorf("MatchingActiveWork = %+v", got.MatchingActiveWork)
	}
}

func TestAnalyze_UnconfiguredFailsOpen(t *testing.T) {
	client := &scriptedClient{configured: false, script: []scriptStep{{text: `{}`}}}
	a := New(client, fastConfig(), nil)

	got := a.Analyze(context.Background(), testReport("db_connect"), nil)

	if !got.FallbackUsed {
		t.Fatal("FallbackUsed = false")
	}
	if got.IsDuplicateOfActiveWork {
		t.Error("fallback must not claim a duplicate")
	}
	if got.RootCause != "API key not configured" {
		t.Errorf("RootCause = %q", got.RootCause)
	}
	if client.callCount() != 0 {
		t.Errorf("calls = %d, want 0", client.callCount())
	}
}

func TestAnalyze_NilClientFailsOpen(t *testing.T) {
	a := New(nil, fastConfig(), nil)
	got := a.Analyze(context.Background(), testReport("db_connect"), nil)
	if !got.FallbackUsed {
		t.Fatal("FallbackUsed = false")
	}
}

func TestAnalyze_ClientErrorRetriesThenFailsOpen(t *testing.T) {
	client := &scriptedClient{
		configured: true,
		script:     []scriptStep{{err: errors.New("boom")}},
	}
	cfg := fastConfig()
	cfg.MaxRetries = 1
	a := New(client, cfg, nil)

	got := a.Analyze(context.Background(), testReport("db_connect"), nil)

	if !got.FallbackUsed {
		t.Fatal("FallbackUsed = false")
	}
	if !strings.Contains(got.RootCause, "Analysis failed") {
		t.Errorf("RootCause = %q", got.RootCause)
	}
	if got.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", got.Confidence)
	}
	if client.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (original + retry)", client.callCount())
	}
}

func TestAnalyze_RetryRecovers(t *testing.T) {
	client := &scriptedClient{
		configured: true,
		script: []scriptStep{
			{err: errors.New("transient")},
			{text: `{"confidence":0.7}`},
		},
	}
	cfg := fastConfig()
	cfg.MaxRetries = 1
	a := New(client, cfg, nil)

	got := a.Analyze(context.Background(), testReport("db_connect"), nil)

	if got.FallbackUsed {
		t.Fatal("FallbackUsed = true after successful retry")
	}
	if got.Confidence != 0.7 {
		t.Errorf("Confidence = %v", got.Confidence)
	}
	if client.callCount() != 2 {
		t.Errorf("calls = %d, want 2", client.callCount())
	}
}

func TestAnalyze_GarbageResponseFailsOpen(t *testing.T) {
	client := &scriptedClient{configured: true, script: []scriptStep{{text: "I cannot answer that."}}}
	a := New(client, fastConfig(), nil)

	got := a.Analyze(context.Background(), testReport("db_connect"), nil)

	if !got.FallbackUsed {
		t.Fatal("FallbackUsed = false")
	}
	if got.RootCause != "Failed to parse AI analysis" {
		t.Errorf("RootCause = %q", got.RootCause)
	}
	// Parse failures are terminal, not retriable.
	if client.callCount() != 1 {
		t.Errorf("calls = %d, want 1", client.callCount())
	}
}

func TestAnalyze_NoRetryOnCancellation(t *testing.T) {
	client := &scriptedClient{
		configured: true,
		script:     []scriptStep{{err: context.Canceled}},
	}
	cfg := fastConfig()
	cfg.MaxRetries = 3
	a := New(client, cfg, nil)

	got := a.Analyze(context.Background(), testReport("db_connect"), nil)

	if !got.FallbackUsed {
		t.Fatal("FallbackUsed = false")
	}
	if client.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (cancellation must not retry)", client.callCount())
	}
}

func TestContextPayload(t *testing.T) {
	a := &RootCauseAnalysis{
		RootCause:          "stale connection reuse",
		Category:           CategoryInfrastructure,
		Severity:           report.SeverityError,
		AffectedComponents: []string{"pool"},
		SuggestedAction:    "validate connections",
		Confidence:         0.85,
		Reasoning:          "internal note that must stay out",
	}

	payload := a.ContextPayload()

	for _, key := range []string{"root_cause", "category", "severity", "affected_components", "suggested_action", "confidence"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	if _, ok := payload["reasoning"]; ok {
		t.Error("payload must not carry reasoning")
	}
	if payload["category"] != CategoryInfrastructure {
		t.Errorf("category = %v", payload["category"])
	}
}
