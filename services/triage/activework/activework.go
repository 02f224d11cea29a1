// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package activework enumerates everything the platform is already
// doing about its errors: in-flight repair sessions from the history
// store and open unmerged pull requests from the code host. The
// duplicate classifier receives this list so it can match a new error
// against work that is already underway.
package activework

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianTriage/services/triage/github"
	"github.com/AleutianAI/AleutianTriage/services/triage/history"
)

// Type tags one work item's origin.
type Type string

const (
	TypeRepairSession     Type = "repair_session"
	TypeOpenChangeRequest Type = "open_change_request"
)

// Item is one unit of in-flight work.
type Item struct {
	Type        Type      `json:"type"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// SessionSource is the slice of the history store the inspector
// reads.
type SessionSource interface {
	ActiveSessions() map[string]string
	History(fp string) history.ErrorHistory
}

// PullSource lists open pull requests for a repo.
type PullSource interface {
	OpenPullRequests(ctx context.Context, repo string) ([]github.PullRequest, error)
}

// Inspector collects active work. Both sources degrade to empty on
// failure; Collect never returns an error.
type Inspector struct {
	sessions    SessionSource
	pulls       PullSource
	sessionHost string
	logger      *slog.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithSessionHost overrides the host used to render session URLs.
func WithSessionHost(host string) Option {
	return func(i *Inspector) {
		if host != "" {
			i.sessionHost = host
		}
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Inspector) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an Inspector over the two sources. pulls may be nil
// when no code-hosting client is configured.
func New(sessions SessionSource, pulls PullSource, opts ...Option) *Inspector {
	i := &Inspector{
		sessions:    sessions,
		pulls:       pulls,
		sessionHost: "https://app.devin.ai",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Collect returns active repair sessions followed by open pull
// requests for repo. The two sources are fetched concurrently; a
// failing or absent source contributes nothing. An empty repo skips
// the pull-request source.
func (i *Inspector) Collect(ctx context.Context, repo string) []Item {
	var sessionItems, prItems []Item

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessionItems = i.collectSessions()
		return nil
	})
	g.Go(func() error {
		prItems = i.collectPulls(ctx, repo)
		return nil
	})
	_ = g.Wait()

	return append(sessionItems, prItems...)
}

func (i *Inspector) collectSessions() []Item {
	if i.sessions == nil {
		return nil
	}

	active := i.sessions.ActiveSessions()
	items := make([]Item, 0, len(active))
	for fp, sessionID := range active {
		item := Item{
			Type:        TypeRepairSession,
			ID:          sessionID,
			Title:       fmt.Sprintf("Devin session %s", sessionID),
			Description: fmt.Sprintf("Active session for error fingerprint %s...", shortFP(fp)),
			URL:         fmt.Sprintf("%s/sessions/%s", i.sessionHost, sessionID),
		}
		// The attempt record knows when the session actually started.
		for _, a := range i.sessions.History(fp).Attempts {
			if a.SessionID == sessionID {
				item.CreatedAt = a.CreatedAt
				if a.SessionURL != "" {
					item.URL = a.SessionURL
				}
			}
		}
		items = append(items, item)
	}
	return items
}

func (i *Inspector) collectPulls(ctx context.Context, repo string) []Item {
	if i.pulls == nil || repo == "" {
		return nil
	}

	prs, err := i.pulls.OpenPullRequests(ctx, repo)
	if err != nil {
		i.logger.Warn("open PR lookup failed, treating as no active PRs",
			"repo", repo, "error", err)
		return nil
	}

	items := make([]Item, 0, len(prs))
	for _, pr := range prs {
		items = append(items, Item{
			Type:        TypeOpenChangeRequest,
			ID:          fmt.Sprintf("%d", pr.Number),
			Title:       pr.Title,
			Description: pr.Body,
			URL:         pr.HTMLURL,
			CreatedAt:   pr.CreatedAt,
		})
	}
	return items
}

func shortFP(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
