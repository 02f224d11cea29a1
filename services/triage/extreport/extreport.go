// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extreport submits errors to a central error-tracking
// collector instead of routing them locally.
//
// # Description
//
// Deployments that run many agent instances point them all at one
// collector, which owns cooldowns, history, deduplication, and repair
// dispatch across the fleet. This client sanitizes the error, posts
// it, and maps the collector's reply onto the local Result shape.
// When no collector credentials are configured the client falls back
// to the local router, so a standalone deployment behaves the same
// with or without a collector.
//
// # Thread Safety
//
// Safe for concurrent use.
package extreport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/quota"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
	"github.com/AleutianAI/AleutianTriage/services/triage/router"
	"github.com/AleutianAI/AleutianTriage/services/triage/sanitize"
)

const (
	// DefaultCollectorURL is the production error-reports endpoint.
	DefaultCollectorURL = "https://aleutian.ai/api/external-error-reports"

	// EnvCollectorURL overrides the collector endpoint.
	EnvCollectorURL = "ALEUTIAN_COLLECTOR_URL"

	// EnvAPIKey is the environment variable holding the collector
	// API key.
	EnvAPIKey = "ALEUTIAN_ERROR_REPORTS_API_KEY"

	// DefaultSource identifies this platform in collector payloads.
	DefaultSource = "aleutian"

	defaultTimeout = 30 * time.Second
	secretPath     = "/run/secrets/error_reports_api_key"
)

// reportPayload is the collector's ingest contract.
type reportPayload struct {
	Source       string         `json:"source"`
	Category     string         `json:"category"`
	Message      string         `json:"message"`
	StackTrace   string         `json:"stackTrace,omitempty"`
	CodeLocation string         `json:"codeLocation,omitempty"`
	Severity     string         `json:"severity"`
	Context      map[string]any `json:"context"`
	Repository   string         `json:"repository,omitempty"`
}

// collectorResponse is the collector's reply envelope.
type collectorResponse struct {
	Success        bool   `json:"success"`
	NotificationID string `json:"notificationId"`
	SessionID      string `json:"devinSessionId"`
	SessionURL     string `json:"devinSessionUrl"`
	Action         string `json:"action"`
	Error          string `json:"error"`
	Message        string `json:"message"`
}

// Fallback routes an error locally when the collector is not
// configured. Implemented by router.Router.
type Fallback interface {
	Route(ctx context.Context, e report.ErrorReport) router.Result
}

// Config configures a Client. The zero value resolves the API key and
// endpoint from the environment and routes locally when neither
// yields a key.
type Config struct {
	// CollectorURL overrides the ingest endpoint.
	CollectorURL string

	// APIKey bypasses environment resolution when set.
	APIKey string

	// Source names this platform in payloads. Defaults to "aleutian".
	Source string

	// Repository is the default repo slug sent when a report names no
	// SourceRepo.
	Repository string

	// MaxRequestsPerHour caps collector submissions. Defaults to the
	// shared hourly dispatch budget.
	MaxRequestsPerHour int

	// Timeout bounds each submission. Defaults to 30 seconds.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Sanitizer overrides the credential scrubber. Defaults to the
	// shared battery.
	Sanitizer *sanitize.Sanitizer

	// Fallback handles reports locally when no collector key is
	// configured. Without one, unconfigured submissions fail.
	Fallback Fallback

	Logger *slog.Logger
}

// Client submits errors to the collector.
type Client struct {
	url        string
	apiKey     string
	source     string
	repository string
	httpClient *http.Client
	sanitizer  *sanitize.Sanitizer
	limiter    *quota.HourlyLimiter
	fallback   Fallback
	logger     *slog.Logger
}

// NewClient builds a Client. The API key is taken from cfg, then the
// ALEUTIAN_ERROR_REPORTS_API_KEY environment variable, then the
// container secret file; a missing key is not an error, it selects
// the fallback path.
func NewClient(cfg Config) *Client {
	url := strings.TrimRight(cfg.CollectorURL, "/")
	if url == "" {
		url = strings.TrimRight(os.Getenv(EnvCollectorURL), "/")
	}
	if url == "" {
		url = DefaultCollectorURL
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvAPIKey)
	}
	if apiKey == "" {
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
		}
	}

	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}

	max := cfg.MaxRequestsPerHour
	if max <= 0 {
		max = quota.DefaultMaxRequestsPerHour
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	sani := cfg.Sanitizer
	if sani == nil {
		sani = sanitize.Default()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:        url,
		apiKey:     apiKey,
		source:     source,
		repository: cfg.Repository,
		httpClient: httpClient,
		sanitizer:  sani,
		limiter:    quota.NewHourlyLimiter(max),
		fallback:   cfg.Fallback,
		logger:     logger,
	}
}

// Configured reports whether a collector API key was resolved.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Report submits one error to the collector.
//
// # Description
//
// Honors the global kill switch, then falls back to local routing
// when no collector key is configured. Submissions are sanitized and
// rate limited client-side; the collector's 401/429 replies map to
// distinct results rather than opaque errors. Like Route, Report
// returns a Result for every input and never returns an error.
//
// # Inputs
//
//   - ctx: Deadline/cancellation for the HTTP call.
//   - e: The error to report. An empty severity ranks as ERROR.
func (c *Client) Report(ctx context.Context, e report.ErrorReport) router.Result {
	if router.AutoReviewDisabled() {
		return router.Result{
			SkippedReason: "Devin auto-review is disabled via DISABLE_DEVIN_AUTO_REVIEW",
		}
	}

	if c.apiKey == "" {
		if c.fallback == nil {
			return router.Result{Error: "no collector API key configured and no local fallback"}
		}
		c.logger.Info("no collector API key, falling back to local routing")
		return c.fallback.Route(ctx, e)
	}

	if !c.limiter.Allow(time.Now()) {
		c.logger.Warn("collector submission quota exhausted")
		return router.Result{SkippedReason: "Rate limit exceeded"}
	}

	e.EnsureDefaults()
	sanitized := c.sanitizer.Report(e)

	repo := sanitized.SourceRepo
	if repo == "" {
		repo = c.repository
	}
	payload := reportPayload{
		Source:       c.source,
		Category:     sanitized.Category,
		Message:      sanitized.Message,
		StackTrace:   sanitized.StackTrace,
		CodeLocation: sanitized.CodeLocation,
		Severity:     string(sanitized.Severity),
		Context:      sanitized.Context,
		Repository:   repo,
	}
	if payload.Context == nil {
		payload.Context = map[string]any{}
	}

	c.logger.Info("reporting error to collector",
		"category", payload.Category,
		"severity", payload.Severity,
		"repository", repo)

	resp, err := c.submit(ctx, payload)
	switch {
	case errors.Is(err, errUnauthorized):
		c.logger.Error("collector rejected the API key")
		return router.Result{Error: "Unauthorized - invalid API key"}
	case errors.Is(err, errRateLimited):
		c.logger.Warn("collector rate limited the submission")
		return router.Result{SkippedReason: "Rate limit exceeded on collector API"}
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		c.logger.Error("collector request timed out", "url", c.url)
		return router.Result{Error: "Request timeout"}
	case err != nil:
		c.logger.Error("collector request failed", "url", c.url, "error", err)
		return router.Result{Error: err.Error()}
	}

	if !resp.Success {
		return router.Result{Error: resp.Error, SkippedReason: resp.Message}
	}
	c.logger.Info("error reported to collector",
		"notification_id", resp.NotificationID,
		"session_url", resp.SessionURL)
	return router.Result{
		Success:              true,
		NotificationID:       resp.NotificationID,
		SessionID:            resp.SessionID,
		SessionURL:           resp.SessionURL,
		InCooldown:           resp.Action == "cooldown",
		HasHistoricalContext: resp.Action == "historical_context",
	}
}

// errUnauthorized and errRateLimited mark the two status codes Report
// maps to distinct results.
var (
	errUnauthorized = errors.New("collector rejected the API key")
	errRateLimited  = errors.New("collector rate limited the submission")
)

// submit performs one POST and decodes the reply.
func (c *Client) submit(ctx context.Context, payload reportPayload) (*collectorResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errUnauthorized
	case http.StatusTooManyRequests:
		return nil, errRateLimited
	default:
		return nil, fmt.Errorf("API error: %d", resp.StatusCode)
	}

	var decoded collectorResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse collector response: %w", err)
	}
	return &decoded, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
