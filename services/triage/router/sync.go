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
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// RouteSync runs Route on a background goroutine with a hard deadline.
//
// # Description
//
// For call sites that cannot supply a context. A non-positive timeout
// uses the configured SyncTimeout (120 s by default). On deadline the
// outbound calls are cancelled and an error result is returned; no
// attempt is recorded for a timed-out dispatch.
func (r *Router) RouteSync(e report.ErrorReport, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = r.cfg.load().SyncTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- r.Route(ctx, e)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		r.logger.Error("synchronous routing timed out",
			"timeout", timeout,
			"category", e.Category,
			"event", e.Event)
		return Result{
			Success: false,
			Error:   fmt.Sprintf("routing timed out after %s", timeout),
		}
	}
}

// RouteGoError builds an ErrorReport from a Go error and routes it.
//
// # Description
//
// Convenience entry point for instrumented call sites:
//
//	if err := doWork(); err != nil {
//	    router.RouteGoError(ctx, err, "agent_error", map[string]any{"agent_id": id})
//	    return err
//	}
//
// The report's message is err.Error(); the stack trace is the error's
// own %+v rendering when it carries one, otherwise the calling
// goroutine's stack. The code location is the caller's file:line.
// Severity is ERROR; an empty category becomes "runtime_error".
func (r *Router) RouteGoError(ctx context.Context, err error, category string, contextMap map[string]any) Result {
	if err == nil {
		return Result{Success: false, Error: "no error provided"}
	}
	if category == "" {
		category = "runtime_error"
	}

	msg := err.Error()
	stack := fmt.Sprintf("%+v", err)
	if stack == msg {
		stack = string(debug.Stack())
	}

	var loc string
	if _, file, line, ok := runtime.Caller(1); ok {
		loc = fmt.Sprintf("%s:%d", file, line)
	}

	return r.Route(ctx, report.ErrorReport{
		Category:     category,
		Event:        "exception",
		Message:      msg,
		StackTrace:   stack,
		CodeLocation: loc,
		Context:      contextMap,
		Severity:     report.SeverityError,
	})
}
