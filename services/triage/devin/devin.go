// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package devin is the client for the upstream repair service. One
// operation: create a repair session from a prompt. The router treats
// a missing API key and a failed call differently, so the client
// exposes both Configured and CreateSession.
package devin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the repair service's API root.
	DefaultBaseURL = "https://api.devin.ai/v1"

	// DefaultSessionHost is the web host used to synthesize a session
	// URL when the API response omits one.
	DefaultSessionHost = "https://app.devin.ai"

	// EnvAPIKey is the environment variable holding the API key.
	EnvAPIKey = "DEVIN_API_KEY"

	defaultTimeout = 30 * time.Second
	secretPath     = "/run/secrets/devin_api_key"
)

// Session describes a created repair session.
type Session struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
}

type sessionRequest struct {
	Prompt string `json:"prompt"`
	Repo   string `json:"repo,omitempty"`
}

// Config configures a Client. The zero value resolves the API key
// from the environment and uses production endpoints.
type Config struct {
	// BaseURL overrides the API root. Trailing slashes are trimmed.
	BaseURL string

	// SessionHost overrides the host for synthesized session URLs.
	SessionHost string

	// APIKey bypasses environment resolution when set.
	APIKey string

	// Timeout bounds each CreateSession call. Defaults to 30 seconds.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests. Its own
	// Timeout is left untouched.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to the repair service. Safe for concurrent use.
type Client struct {
	baseURL     string
	sessionHost string
	apiKey      string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient builds a Client. The API key is taken from cfg, then the
// DEVIN_API_KEY environment variable, then the container secret file.
// A missing key is not an error here; the router reports it as a
// structured routing failure at dispatch time.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	sessionHost := strings.TrimRight(cfg.SessionHost, "/")
	if sessionHost == "" {
		sessionHost = DefaultSessionHost
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

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     baseURL,
		sessionHost: sessionHost,
		apiKey:      apiKey,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Configured reports whether an API key was resolved. Without one,
// every dispatch would be rejected upstream; callers check this
// before building a prompt.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// CreateSession submits the prompt and returns the created session.
// The repo slug is optional. Any non-200 response or transport
// failure is returned as an error; the response is never partially
// trusted.
func (c *Client) CreateSession(ctx context.Context, prompt, repo string) (*Session, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("no repair API key configured")
	}

	payload, err := json.Marshal(sessionRequest{Prompt: prompt, Repo: repo})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("creating repair session", "repo", repo, "prompt_bytes", len(prompt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("repair API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repair API returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}
	if session.SessionID == "" {
		return nil, fmt.Errorf("repair API response missing session_id")
	}
	if session.URL == "" {
		session.URL = fmt.Sprintf("%s/sessions/%s", c.sessionHost, session.SessionID)
	}
	if session.Status == "" {
		session.Status = "created"
	}

	c.logger.Info("repair session created",
		"session_id", session.SessionID, "status", session.Status)
	return &session, nil
}
