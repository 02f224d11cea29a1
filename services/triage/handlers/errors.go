// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTriage/services/triage/observability"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

// HandleReportError ingests one error report and runs it through the
// routing pipeline.
//
// # Description
//
// The body is a report.ErrorReport. Malformed or invalid reports get a
// 400 and never reach the router. A report that results in a new repair
// session returns 202 Accepted; every other outcome (skip, linked to
// existing work, cooldown, dispatch failure) returns 200 with the full
// router.Result so callers can inspect why nothing new was created.
func HandleReportError(rt *router.Router, metrics *observability.TriageMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var e report.ErrorReport
		if err := c.BindJSON(&e); err != nil {
			metrics.RecordIngestRejected()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		e.EnsureDefaults()
		if err := e.Validate(); err != nil {
			metrics.RecordIngestRejected()
			slog.Warn("Rejected error report",
				"error", err,
				"category", e.Category,
				"event", e.Event,
			)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res := rt.Route(c.Request.Context(), e)

		status := http.StatusOK
		if res.Dispatched() {
			status = http.StatusAccepted
		}
		c.JSON(status, res)
	}
}
