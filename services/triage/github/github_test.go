// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package github

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prListJSON = `[
  {
    "number": 12,
    "title": "Fix nil deref in session pool",
    "body": "Closes the crash.\n\nError-Fingerprint: abcd1234",
    "html_url": "https://github.com/acme/agent/pull/12",
    "created_at": "2025-06-02T09:30:00Z"
  },
  {
    "number": 11,
    "title": "Bump deps",
    "body": null,
    "html_url": "https://github.com/acme/agent/pull/11",
    "created_at": "2025-06-01T08:00:00Z"
  }
]`

func TestOpenPullRequests_Success(t *testing.T) {
	var gotPath, gotAuth, gotAccept, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, prListJSON)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, Token: "gh-token"})
	prs, err := c.OpenPullRequests(context.Background(), "acme/agent")
	require.NoError(t, err)

	require.Len(t, prs, 2)
	assert.Equal(t, 12, prs[0].Number)
	assert.Equal(t, "Fix nil deref in session pool", prs[0].Title)
	assert.Equal(t, "https://github.com/acme/agent/pull/12", prs[0].HTMLURL)
	assert.Empty(t, prs[1].Body)

	assert.Equal(t, "/repos/acme/agent/pulls", gotPath)
	assert.Equal(t, "token gh-token", gotAuth)
	assert.Equal(t, "application/vnd.github.v3+json", gotAccept)
	for _, param := range []string{"state=open", "sort=created", "direction=desc", "per_page=50"} {
		assert.Contains(t, gotQuery, param)
	}
}

func TestOpenPullRequests_NoTokenSkips(t *testing.T) {
	t.Setenv(EnvToken, "")

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	prs, err := c.OpenPullRequests(context.Background(), "acme/agent")
	require.NoError(t, err)
	assert.Empty(t, prs)
	assert.False(t, called, "request issued despite missing token")
	assert.False(t, c.HasToken())
}

func TestOpenPullRequests_InvalidRepo(t *testing.T) {
	c := NewClient(Config{Token: "gh-token"})
	_, err := c.OpenPullRequests(context.Background(), "not-a-slug")
	assert.Error(t, err)
}

func TestOpenPullRequests_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"rate limited"}`)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, Token: "gh-token"})
	_, err := c.OpenPullRequests(context.Background(), "acme/agent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestOpenPullRequests_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"not":"a list"}`)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, Token: "gh-token"})
	_, err := c.OpenPullRequests(context.Background(), "acme/agent")
	assert.Error(t, err)
}

func TestNewClient_TokenFromEnv(t *testing.T) {
	t.Setenv(EnvToken, "env-token")
	c := NewClient(Config{})
	assert.True(t, c.HasToken())
}
