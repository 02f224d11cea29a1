// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianTriage/services/triage/handlers"
	"github.com/AleutianAI/AleutianTriage/services/triage/middleware"
	"github.com/AleutianAI/AleutianTriage/services/triage/observability"
	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

func SetupRoutes(engine *gin.Engine, rt *router.Router, metrics *observability.TriageMetrics) {

	engine.GET("/health", handlers.HealthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ingestLimiter := middleware.NewIngestLimiter(0, 0)

	// API version 1 group
	v1 := engine.Group("/v1")
	{
		v1.POST("/errors", middleware.RateLimit(ingestLimiter), handlers.HandleReportError(rt, metrics))
		v1.POST("/webhooks/github", handlers.HandleGitHubWebhook(rt, metrics))
		v1.GET("/stats", handlers.HandleGetStats(rt))
		// Runtime configuration
		config := v1.Group("/config")
		{
			config.GET("", handlers.HandleGetConfig(rt))
			config.PUT("", handlers.HandleUpdateConfig(rt))
		}
	}
}
