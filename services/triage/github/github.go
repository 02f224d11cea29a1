// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package github lists open pull requests for the active-work
// inspector. Read-only: the triage service never writes to the code
// host. A missing token disables the lookup rather than failing it.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

const (
	// DefaultBaseURL is the GitHub REST API root.
	DefaultBaseURL = "https://api.github.com"

	// EnvToken is the environment variable holding the API token.
	EnvToken = "GITHUB_TOKEN"

	// MaxOpenPRs caps how many pull requests one lookup returns.
	MaxOpenPRs = 50

	defaultTimeout = 30 * time.Second
	secretPath     = "/run/secrets/github_token"
	acceptHeader   = "application/vnd.github.v3+json"
)

// PullRequest is the slice of the GitHub PR object the inspector
// consumes.
type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Config configures a Client. The zero value resolves the token from
// the environment and uses api.github.com.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client fetches open pull requests. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client. The token is taken from cfg, then the
// GITHUB_TOKEN environment variable, then the container secret file.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv(EnvToken)
	}
	if token == "" {
		if content, err := os.ReadFile(secretPath); err == nil {
			token = strings.TrimSpace(string(content))
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
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasToken reports whether a token was resolved.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// OpenPullRequests returns up to MaxOpenPRs open pull requests for
// the owner/name repo, newest first. Without a token it returns an
// empty list and no error; the code host is simply not consulted.
func (c *Client) OpenPullRequests(ctx context.Context, repo string) ([]PullRequest, error) {
	if c.token == "" {
		c.logger.Debug("no GitHub token configured, skipping PR lookup")
		return nil, nil
	}
	if !report.ValidRepoSlug(repo) {
		return nil, fmt.Errorf("invalid repo slug %q, expected owner/name", repo)
	}

	query := url.Values{
		"state":     {"open"},
		"sort":      {"created"},
		"direction": {"desc"},
		"per_page":  {fmt.Sprintf("%d", MaxOpenPRs)},
	}
	endpoint := fmt.Sprintf("%s/repos/%s/pulls?%s", c.baseURL, repo, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GitHub API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var prs []PullRequest
	if err := json.Unmarshal(body, &prs); err != nil {
		return nil, fmt.Errorf("failed to parse PR list: %w", err)
	}
	if len(prs) > MaxOpenPRs {
		prs = prs[:MaxOpenPRs]
	}
	return prs, nil
}
