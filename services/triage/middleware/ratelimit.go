// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the triage service.
//
// # Rate Limiting
//
// Error ingestion sits downstream of every agent on the platform, so a
// single crash-looping agent can generate thousands of reports per
// minute. The ingest limiter is a token bucket in front of the routing
// pipeline: sustained floods are rejected with 429 before they consume
// fingerprinting, history lookups, or AI analysis. The router's own
// deduplication and hourly quota still apply to whatever gets through.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Ingest limiter defaults. Sustained rate covers a busy fleet;
// the burst absorbs the first seconds of an error storm.
const (
	DefaultIngestRPS   = 50
	DefaultIngestBurst = 100
)

// NewIngestLimiter builds the shared token bucket for the ingest
// route. Non-positive arguments fall back to the defaults.
func NewIngestLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = DefaultIngestRPS
	}
	if burst <= 0 {
		burst = DefaultIngestBurst
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimit rejects requests with 429 once the bucket is empty.
// Requests are never queued: during a storm the caller learns
// immediately and the pipeline stays responsive.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
