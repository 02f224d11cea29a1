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
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/services/triage/report"
	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	reportCategory string // Coarse error class (agent_error, database, ...)
	reportEvent    string // Sub-tag within the category
	reportSeverity string // DEBUG..CRITICAL
	reportLocation string // file:line of the failure site
	reportRepo     string // owner/name override for the fix PR
	reportStack    bool   // Read a stack trace from stdin
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// reportCmd submits one error report to the routing pipeline.
//
// # Examples
//
//	triagectl report "connection pool exhausted after 30s"
//	triagectl report --category database --event timeout "query exceeded 10s"
//	some-agent 2>&1 | triagectl report --stack "agent crashed"
var reportCmd = &cobra.Command{
	Use:   "report [message]",
	Short: "Submit an error report and show the routing outcome",
	Args:  cobra.ExactArgs(1),
	Run:   runReportCommand,
}

func init() {
	reportCmd.Flags().StringVarP(&reportCategory, "category", "c", "manual_report",
		"Error category (agent_error, database, ...)")
	reportCmd.Flags().StringVarP(&reportEvent, "event", "e", "cli",
		"Event tag within the category")
	reportCmd.Flags().StringVarP(&reportSeverity, "severity", "s", "ERROR",
		"Severity: DEBUG, INFO, WARNING, ERROR, CRITICAL")
	reportCmd.Flags().StringVarP(&reportLocation, "location", "l", "",
		"Code location as file:line")
	reportCmd.Flags().StringVarP(&reportRepo, "repo", "r", "",
		"Target repository as owner/name (overrides the service default)")
	reportCmd.Flags().BoolVar(&reportStack, "stack", false,
		"Read a stack trace from stdin")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runReportCommand(cmd *cobra.Command, args []string) {
	e := report.ErrorReport{
		Category:     reportCategory,
		Event:        reportEvent,
		Message:      args[0],
		Severity:     report.ParseSeverity(reportSeverity),
		CodeLocation: reportLocation,
		SourceRepo:   reportRepo,
	}
	if reportStack {
		raw, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read stack trace from stdin: %v\n", err)
			os.Exit(1)
		}
		e.StackTrace = string(raw)
	}

	var res router.Result
	if err := callService("POST", "/v1/errors", e, &res); err != nil {
		fmt.Fprintf(os.Stderr, "Report failed: %v\n", err)
		os.Exit(1)
	}

	if machineOutput() {
		printJSON(res)
	} else {
		printResult(res)
	}
	if !res.Success && res.Error != "" {
		os.Exit(1)
	}
}

// printResult renders a routing outcome for humans.
func printResult(res router.Result) {
	switch {
	case res.Dispatched():
		fmt.Println("Dispatched a new repair session")
		fmt.Printf("  Session: %s\n", res.SessionID)
		if res.SessionURL != "" {
			fmt.Printf("  URL:     %s\n", res.SessionURL)
		}
	case res.LinkedToExisting:
		fmt.Printf("Linked to existing session %s\n", res.SessionID)
		if res.SkippedReason != "" {
			fmt.Printf("  %s\n", res.SkippedReason)
		}
	case res.InCooldown:
		fmt.Println("In post-merge cooldown")
		if res.CooldownEndsAt != nil {
			fmt.Printf("  Ends: %s\n", res.CooldownEndsAt.Format(time.RFC3339))
		}
		if res.SkippedReason != "" {
			fmt.Printf("  %s\n", res.SkippedReason)
		}
	case res.SkippedReason != "":
		fmt.Printf("Skipped: %s\n", res.SkippedReason)
	case res.Error != "":
		fmt.Printf("Routing failed: %s\n", res.Error)
	default:
		fmt.Println("No action taken")
	}
	if res.AIAnalysis != nil {
		fmt.Printf("  AI verdict: duplicate=%v confidence=%.2f\n",
			res.AIAnalysis.IsDuplicateOfActiveWork, res.AIAnalysis.Confidence)
	}
}
