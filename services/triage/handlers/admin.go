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

	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

// configView renders a router.Config with durations as strings so the
// API round-trips with the values accepted by ConfigUpdate.
type configView struct {
	EnableDevin        bool   `json:"enable_devin"`
	MinSeverity        string `json:"min_severity"`
	EnableAIAnalysis   bool   `json:"enable_ai_analysis"`
	DefaultRepo        string `json:"default_repo,omitempty"`
	MaxRequestsPerHour int    `json:"max_requests_per_hour"`
	DedupWindow        string `json:"dedup_window"`
	Cooldown           string `json:"pr_merge_cooldown"`
	SyncTimeout        string `json:"sync_timeout"`
}

func viewOf(cfg router.Config) configView {
	return configView{
		EnableDevin:        cfg.EnableDevin,
		MinSeverity:        string(cfg.MinSeverity),
		EnableAIAnalysis:   cfg.EnableAIAnalysis,
		DefaultRepo:        cfg.DefaultRepo,
		MaxRequestsPerHour: cfg.MaxRequestsPerHour,
		DedupWindow:        cfg.DedupWindow.String(),
		Cooldown:           cfg.Cooldown.String(),
		SyncTimeout:        cfg.SyncTimeout.String(),
	}
}

// HandleGetStats returns a point-in-time routing snapshot.
func HandleGetStats(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, rt.Stats())
	}
}

// HandleGetConfig returns the live routing configuration.
func HandleGetConfig(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, viewOf(rt.Config()))
	}
}

// HandleUpdateConfig applies a partial configuration update. Invalid
// updates are rejected atomically and leave the running configuration
// untouched.
func HandleUpdateConfig(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update router.ConfigUpdate
		if err := c.BindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		cfg, err := rt.UpdateConfig(update)
		if err != nil {
			slog.Warn("Rejected config update", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, viewOf(cfg))
	}
}
