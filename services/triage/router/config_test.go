// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/triage/dedup"
	"github.com/AleutianAI/AleutianTriage/services/triage/history"
	"github.com/AleutianAI/AleutianTriage/services/triage/quota"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.EnableDevin || !cfg.EnableAIAnalysis {
		t.Errorf("defaults should enable routing and analysis: %+v", cfg)
	}
	if cfg.MinSeverity != report.SeverityError {
		t.Errorf("MinSeverity = %q, want ERROR", cfg.MinSeverity)
	}
	if cfg.MaxRequestsPerHour != quota.DefaultMaxRequestsPerHour {
		t.Errorf("MaxRequestsPerHour = %d", cfg.MaxRequestsPerHour)
	}
	if cfg.DedupWindow != dedup.DefaultWindow {
		t.Errorf("DedupWindow = %s", cfg.DedupWindow)
	}
	if cfg.Cooldown != history.DefaultPRMergeCooldown {
		t.Errorf("Cooldown = %s", cfg.Cooldown)
	}
	if cfg.SyncTimeout != DefaultSyncTimeout {
		t.Errorf("SyncTimeout = %s", cfg.SyncTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{MinSeverity: "warning"}
	cfg.Normalize()

	if cfg.MinSeverity != report.SeverityWarning {
		t.Errorf("MinSeverity = %q, want WARNING", cfg.MinSeverity)
	}
	if cfg.MaxRequestsPerHour != quota.DefaultMaxRequestsPerHour {
		t.Errorf("zero MaxRequestsPerHour should default, got %d", cfg.MaxRequestsPerHour)
	}
	if cfg.DedupWindow != dedup.DefaultWindow || cfg.Cooldown != history.DefaultPRMergeCooldown {
		t.Errorf("zero durations should default: %+v", cfg)
	}

	// Unknown severity names rank as ERROR rather than failing.
	cfg = Config{MinSeverity: "BANANAS"}
	cfg.Normalize()
	if cfg.MinSeverity != report.SeverityError {
		t.Errorf("MinSeverity = %q, want ERROR", cfg.MinSeverity)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRequestsPerHour = 2000
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a quota above 1000")
	}

	cfg = DefaultConfig()
	cfg.DefaultRepo = "no-slash"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a malformed repo slug")
	}

	cfg = DefaultConfig()
	cfg.DefaultRepo = "acme/agent"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid slug rejected: %v", err)
	}
}

func TestConfigUpdateApply(t *testing.T) {
	cfg := DefaultConfig()
	enabled := false
	window := "30m"
	cooldown := "10m"
	u := ConfigUpdate{
		EnableDevin: &enabled,
		DedupWindow: &window,
		Cooldown:    &cooldown,
	}
	if err := u.apply(&cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.EnableDevin {
		t.Error("EnableDevin should be false")
	}
	if cfg.DedupWindow != 30*time.Minute {
		t.Errorf("DedupWindow = %s, want 30m", cfg.DedupWindow)
	}
	if cfg.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown = %s, want 10m", cfg.Cooldown)
	}

	bad := "soon"
	if err := (ConfigUpdate{DedupWindow: &bad}).apply(&cfg); err == nil {
		t.Fatal("expected an error for an unparseable window")
	} else if !strings.Contains(err.Error(), "invalid dedup_window") {
		t.Errorf("error = %v", err)
	}
	if err := (ConfigUpdate{Cooldown: &bad}).apply(&cfg); err == nil {
		t.Fatal("expected an error for an unparseable cooldown")
	} else if !strings.Contains(err.Error(), "invalid pr_merge_cooldown") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	content := `enable_devin: false
min_severity: warning
enable_ai_analysis: false
default_repo: acme/agent
max_requests_per_hour: 3
dedup_window: 30m
pr_merge_cooldown: 10m
sync_timeout: 45s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.EnableDevin || cfg.EnableAIAnalysis {
		t.Errorf("switches not applied: %+v", cfg)
	}
	if cfg.MinSeverity != report.SeverityWarning {
		t.Errorf("MinSeverity = %q, want WARNING", cfg.MinSeverity)
	}
	if cfg.DefaultRepo != "acme/agent" {
		t.Errorf("DefaultRepo = %q", cfg.DefaultRepo)
	}
	if cfg.MaxRequestsPerHour != 3 {
		t.Errorf("MaxRequestsPerHour = %d, want 3", cfg.MaxRequestsPerHour)
	}
	if cfg.DedupWindow != 30*time.Minute {
		t.Errorf("DedupWindow = %s, want 30m", cfg.DedupWindow)
	}
	if cfg.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown = %s, want 10m", cfg.Cooldown)
	}
	if cfg.SyncTimeout != 45*time.Second {
		t.Errorf("SyncTimeout = %s, want 45s", cfg.SyncTimeout)
	}
}

func TestLoadFile_AbsentFieldsKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	if err := os.WriteFile(path, []byte("min_severity: CRITICAL\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.MinSeverity != report.SeverityCritical {
		t.Errorf("MinSeverity = %q, want CRITICAL", cfg.MinSeverity)
	}
	if !cfg.EnableDevin {
		t.Error("absent enable_devin should keep the default true")
	}
	if cfg.DedupWindow != dedup.DefaultWindow {
		t.Errorf("DedupWindow = %s, want the default", cfg.DedupWindow)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	} else if !strings.Contains(err.Error(), "failed to read the config file") {
		t.Errorf("error = %v", err)
	}

	malformed := filepath.Join(dir, "malformed.yaml")
	if err := os.WriteFile(malformed, []byte("enable_devin: [true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(malformed); err == nil {
		t.Error("expected an error for malformed YAML")
	} else if !strings.Contains(err.Error(), "failed to parse the config file") {
		t.Errorf("error = %v", err)
	}

	badDuration := filepath.Join(dir, "duration.yaml")
	if err := os.WriteFile(badDuration, []byte("dedup_window: fast\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(badDuration); err == nil {
		t.Error("expected an error for an unparseable duration")
	} else if !strings.Contains(err.Error(), "invalid dedup_window") {
		t.Errorf("error = %v", err)
	}

	badRepo := filepath.Join(dir, "repo.yaml")
	if err := os.WriteFile(badRepo, []byte("default_repo: no-slash\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(badRepo); err == nil {
		t.Error("expected a validation error for a malformed repo slug")
	} else if !strings.Contains(err.Error(), "config file failed validation") {
		t.Errorf("error = %v", err)
	}
}

func TestAutoReviewDisabled(t *testing.T) {
	cases := []struct {
		val  string
		want bool
	}{
		{"", false},
		{"false", false},
		{"0", false},
		{"no", false},
		{"enabled", false},
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"Yes", true},
		{" true ", true},
	}
	for _, tc := range cases {
		t.Setenv(EnvDisableAutoReview, tc.val)
		if got := AutoReviewDisabled(); got != tc.want {
			t.Errorf("AutoReviewDisabled() with %q = %v, want %v", tc.val, got, tc.want)
		}
	}
}
