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
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRouteSync_Completes(t *testing.T) {
	r := newTestRouter(t, quietConfig(), Deps{Dispatcher: newFakeDispatcher()})

	res := r.RouteSync(poolError(), time.Second)
	if !res.Success {
		t.Fatalf("expected dispatch, got %+v", res)
	}
	if res.SessionID == "" {
		t.Error("expected a session id")
	}
}

func TestRouteSync_TimesOut(t *testing.T) {
	d := newFakeDispatcher()
	d.gate = make(chan struct{}) // never closed; only ctx unblocks
	r := newTestRouter(t, quietConfig(), Deps{Dispatcher: d})

	e := poolError()
	res := r.RouteSync(e, 50*time.Millisecond)

	if res.Success {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if want := "routing timed out after 50ms"; res.Error != want {
		t.Errorf("Error = %q, want %q", res.Error, want)
	}
	if got := len(r.History().History(e.Fingerprint()).Attempts); got != 0 {
		t.Errorf("attempts = %d, want 0 after a timed-out dispatch", got)
	}
}

func TestRouteGoError_SynthesizesReport(t *testing.T) {
	cfg := quietConfig()
	cfg.EnableAIAnalysis = true
	d := newFakeDispatcher()
	cls := &fakeClassifier{}
	r := newTestRouter(t, cfg, Deps{Dispatcher: d, Classifier: cls})

	res := r.RouteGoError(context.Background(), errors.New("boom: connection refused"), "", map[string]any{"agent_id": "a-7"})
	if !res.Success {
		t.Fatalf("expected dispatch, got %+v", res)
	}

	e := cls.captured()
	if e.Category != "runtime_error" {
		t.Errorf("Category = %q, want runtime_error", e.Category)
	}
	if e.Event != "exception" {
		t.Errorf("Event = %q, want exception", e.Event)
	}
	if e.Message != "boom: connection refused" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Severity != "ERROR" {
		t.Errorf("Severity = %q, want ERROR", e.Severity)
	}
	if !strings.Contains(e.CodeLocation, "sync_test.go:") {
		t.Errorf("CodeLocation = %q, want the caller's file:line", e.CodeLocation)
	}
	if e.StackTrace == "" || e.StackTrace == e.Message {
		t.Error("expected a synthesized stack trace")
	}
	if got := e.Context["agent_id"]; got != "a-7" {
		t.Errorf("Context[agent_id] = %v, want a-7", got)
	}
}

func TestRouteGoError_KeepsCallerCategory(t *testing.T) {
	cfg := quietConfig()
	cfg.EnableAIAnalysis = true
	cls := &fakeClassifier{}
	r := newTestRouter(t, cfg, Deps{Dispatcher: newFakeDispatcher(), Classifier: cls})

	r.RouteGoError(context.Background(), errors.New("boom"), "agent_session", nil)
	if got := cls.captured().Category; got != "agent_session" {
		t.Errorf("Category = %q, want agent_session", got)
	}
}

func TestRouteGoError_NilError(t *testing.T) {
	r := newTestRouter(t, quietConfig(), Deps{Dispatcher: newFakeDispatcher()})

	res := r.RouteGoError(context.Background(), nil, "agent_error", nil)
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if want := "no error provided"; res.Error != want {
		t.Errorf("Error = %q, want %q", res.Error, want)
	}
}
