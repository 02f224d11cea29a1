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
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

// statsCmd shows the routing counters and quota state of the service.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show routing statistics",
	Run:   runStatsCommand,
}

func runStatsCommand(cmd *cobra.Command, args []string) {
	var stats router.Stats
	if err := callService("GET", "/v1/stats", nil, &stats); err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}

	if machineOutput() {
		printJSON(stats)
		return
	}

	fmt.Println("Routing")
	fmt.Printf("  %-22s %v\n", "devin enabled:", stats.DevinEnabled)
	fmt.Printf("  %-22s %v\n", "ai analysis enabled:", stats.AIAnalysisEnabled)
	fmt.Printf("  %-22s %s\n", "min severity:", stats.MinSeverity)
	fmt.Println("Outcomes")
	fmt.Printf("  %-22s %d\n", "total routed:", stats.TotalRouted)
	fmt.Printf("  %-22s %d\n", "dispatched:", stats.Dispatched)
	fmt.Printf("  %-22s %d\n", "linked to existing:", stats.LinkedToExisting)
	fmt.Printf("  %-22s %d\n", "failed:", stats.Failed)
	if len(stats.Skipped) > 0 {
		reasons := make([]string, 0, len(stats.Skipped))
		for r := range stats.Skipped {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		fmt.Println("Skips")
		for _, r := range reasons {
			fmt.Printf("  %-22s %d\n", r+":", stats.Skipped[router.SkipReason(r)])
		}
	}
	fmt.Println("Capacity")
	fmt.Printf("  %-22s %d\n", "quota used:", stats.QuotaUsed)
	fmt.Printf("  %-22s %d\n", "quota remaining:", stats.QuotaRemaining)
	fmt.Println("History")
	fmt.Printf("  %-22s %d\n", "active sessions:", stats.ActiveSessions)
	fmt.Printf("  %-22s %d\n", "resolved errors:", stats.ResolvedErrors)
	fmt.Printf("  %-22s %d\n", "tracked errors:", stats.TrackedErrors)
}
