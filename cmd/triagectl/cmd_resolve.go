// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var (
	resolvePRURL    string
	resolvePRNumber int
)

// resolveCmd manually marks an error fingerprint as fixed, starting
// its post-merge cooldown. It reuses the webhook endpoint with an
// explicit fingerprint, the same path GitHub takes automatically when
// a fix PR with a marker line is merged.
//
// # Examples
//
//	triagectl resolve 94f1b2c0 --pr-url https://github.com/acme/agent/pull/87
var resolveCmd = &cobra.Command{
	Use:   "resolve [fingerprint]",
	Short: "Mark an error as fixed and start its cooldown",
	Args:  cobra.ExactArgs(1),
	Run:   runResolveCommand,
}

func init() {
	resolveCmd.Flags().StringVar(&resolvePRURL, "pr-url", "",
		"URL of the pull request that fixed the error")
	resolveCmd.Flags().IntVar(&resolvePRNumber, "pr-number", 0,
		"Number of the pull request that fixed the error")
}

func runResolveCommand(cmd *cobra.Command, args []string) {
	fp := args[0]

	payload := map[string]any{
		"action": "closed",
		"pull_request": map[string]any{
			"number":   resolvePRNumber,
			"html_url": resolvePRURL,
			"merged":   true,
		},
	}

	var out map[string]any
	path := "/v1/webhooks/github?fingerprint=" + url.QueryEscape(fp)
	if err := callService("POST", path, payload, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Resolve failed: %v\n", err)
		os.Exit(1)
	}

	if machineOutput() {
		printJSON(out)
		return
	}
	fmt.Printf("Cooldown started for %s\n", fp)
	if resolvePRURL != "" {
		fmt.Printf("  PR: %s\n", resolvePRURL)
	}
}
