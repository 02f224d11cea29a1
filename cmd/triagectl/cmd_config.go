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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTriage/services/triage/router"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	cfgEnableDevin bool
	cfgEnableAI    bool
	cfgMinSeverity string
	cfgRepo        string
	cfgMaxPerHour  int
	cfgDedupWindow string
	cfgCooldown    string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the live routing configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the live routing configuration",
	Run:   runConfigGetCommand,
}

// configSetCmd applies a partial update. Only flags that were
// explicitly set are sent, so everything else keeps its value.
//
// # Examples
//
//	triagectl config set --min-severity warning
//	triagectl config set --enable-devin=false
//	triagectl config set --dedup-window 30m --max-per-hour 5
var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update routing configuration fields",
	Run:   runConfigSetCommand,
}

func init() {
	configSetCmd.Flags().BoolVar(&cfgEnableDevin, "enable-devin", true,
		"Enable or disable dispatching to Devin")
	configSetCmd.Flags().BoolVar(&cfgEnableAI, "enable-ai", true,
		"Enable or disable AI duplicate analysis")
	configSetCmd.Flags().StringVar(&cfgMinSeverity, "min-severity", "",
		"Minimum severity routed: DEBUG, INFO, WARNING, ERROR, CRITICAL")
	configSetCmd.Flags().StringVar(&cfgRepo, "repo", "",
		"Default target repository as owner/name")
	configSetCmd.Flags().IntVar(&cfgMaxPerHour, "max-per-hour", 0,
		"Maximum repair sessions per hour")
	configSetCmd.Flags().StringVar(&cfgDedupWindow, "dedup-window", "",
		"Deduplication window as a duration (e.g. 30m, 1h)")
	configSetCmd.Flags().StringVar(&cfgCooldown, "cooldown", "",
		"Post-merge cooldown as a duration (e.g. 5m, 1h)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runConfigGetCommand(cmd *cobra.Command, args []string) {
	var view map[string]any
	if err := callService("GET", "/v1/config", nil, &view); err != nil {
		fmt.Fprintf(os.Stderr, "Config fetch failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(view)
}

func runConfigSetCommand(cmd *cobra.Command, args []string) {
	var update router.ConfigUpdate
	changed := false
	if cmd.Flags().Changed("enable-devin") {
		update.EnableDevin = &cfgEnableDevin
		changed = true
	}
	if cmd.Flags().Changed("enable-ai") {
		update.EnableAIAnalysis = &cfgEnableAI
		changed = true
	}
	if cmd.Flags().Changed("min-severity") {
		update.MinSeverity = &cfgMinSeverity
		changed = true
	}
	if cmd.Flags().Changed("repo") {
		update.DefaultRepo = &cfgRepo
		changed = true
	}
	if cmd.Flags().Changed("max-per-hour") {
		update.MaxRequestsPerHour = &cfgMaxPerHour
		changed = true
	}
	if cmd.Flags().Changed("dedup-window") {
		update.DedupWindow = &cfgDedupWindow
		changed = true
	}
	if cmd.Flags().Changed("cooldown") {
		update.Cooldown = &cfgCooldown
		changed = true
	}
	if !changed {
		fmt.Fprintln(os.Stderr, "Nothing to update: pass at least one configuration flag")
		os.Exit(1)
	}

	var view map[string]any
	if err := callService("PUT", "/v1/config", update, &view); err != nil {
		fmt.Fprintf(os.Stderr, "Config update failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(view)
}
