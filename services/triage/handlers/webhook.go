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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTriage/services/triage/observability"
	"github.com/AleutianAI/AleutianTriage/services/triage/prompt"
	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

// githubEventHeader is the GitHub webhook event type header.
const githubEventHeader = "X-GitHub-Event"

// pullRequestEvent is the payload GitHub sends for pull_request events,
// reduced to the fields the merge flow needs.
type pullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		Merged  bool   `json:"merged"`
	} `json:"pull_request"`
}

// HandleGitHubWebhook closes the repair loop: when a pull request
// carrying a fingerprint marker is merged, the matching error enters
// its post-merge cooldown and the active session is released.
//
// # Description
//
// Only pull_request events with action=closed and merged=true are
// acted on; everything else (ping, opened, closed-without-merge) is
// acknowledged with 200 so GitHub does not mark the hook as failing.
// The fingerprint comes from the marker line in the PR body, or from
// an explicit ?fingerprint= query parameter for manually wired hooks.
func HandleGitHubWebhook(rt *router.Router, metrics *observability.TriageMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		event := c.GetHeader(githubEventHeader)
		if event != "" && event != "pull_request" {
			metrics.RecordWebhook(event, "")
			c.JSON(http.StatusOK, gin.H{"action": "ignored", "event": event})
			return
		}

		var payload pullRequestEvent
		if err := c.BindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		metrics.RecordWebhook("pull_request", payload.Action)

		pr := payload.PullRequest
		if payload.Action != "closed" || !pr.Merged {
			c.JSON(http.StatusOK, gin.H{"action": "ignored"})
			return
		}

		fp := c.Query("fingerprint")
		if fp == "" {
			fp, _ = prompt.ExtractFingerprint(pr.Body)
		}
		if fp == "" {
			slog.Debug("Merged PR carries no fingerprint marker",
				"pr_url", pr.HTMLURL,
				"pr_number", pr.Number,
			)
			c.JSON(http.StatusOK, gin.H{"action": "no_fingerprint"})
			return
		}

		notes := "Fixed by merged PR"
		if pr.Number > 0 {
			notes = fmt.Sprintf("Fixed by PR #%d", pr.Number)
		}
		sessionID, _ := rt.History().ActiveSession(fp)
		rt.History().MarkMerged(fp, pr.HTMLURL, sessionID, notes, time.Now())

		slog.Info("PR merged, cooldown started",
			"fingerprint", fp,
			"pr_url", pr.HTMLURL,
			"session_id", sessionID,
		)
		c.JSON(http.StatusOK, gin.H{
			"action":      "cooldown_started",
			"fingerprint": fp,
			"pr_url":      pr.HTMLURL,
		})
	}
}
