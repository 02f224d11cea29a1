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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTriage/services/triage/dedup"
	"github.com/AleutianAI/AleutianTriage/services/triage/history"
	"github.com/AleutianAI/AleutianTriage/services/triage/quota"
	"github.com/AleutianAI/AleutianTriage/services/triage/report"
)

// =============================================================================
// Constants
// =============================================================================

// EnvDisableAutoReview globally disables routing when set to one of
// "true", "1", or "yes" (case-insensitive). Read live on every route
// call so operators can flip it without a restart.
const EnvDisableAutoReview = "DISABLE_DEVIN_AUTO_REVIEW"

// DefaultSyncTimeout bounds RouteSync when the caller passes no
// timeout.
const DefaultSyncTimeout = 120 * time.Second

// =============================================================================
// Shared Validator Instance
// =============================================================================

// routerValidate is the validator instance for router configuration.
var routerValidate *validator.Validate

func init() {
	routerValidate = validator.New()
	_ = routerValidate.RegisterValidation("reposlug", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || report.ValidRepoSlug(s)
	})
}

// =============================================================================
// Config
// =============================================================================

// Config holds the routing thresholds and feature switches.
//
// # Fields
//
//   - EnableDevin: Master switch for repair dispatch. False turns every
//     route call into a skip.
//   - MinSeverity: Errors ranked below this are skipped.
//   - EnableAIAnalysis: Runs the AI duplicate check before dispatch.
//     When false (or no classifier is wired) routing goes straight to
//     dispatch after the cheap gates.
//   - DefaultRepo: "owner/name" used when a report names no SourceRepo.
//   - MaxRequestsPerHour: Hourly dispatch budget.
//   - DedupWindow: Sliding window for identical-fingerprint suppression.
//   - Cooldown: Quiet period after a merged fix.
//   - SyncTimeout: Deadline for RouteSync callers that pass none.
//
// # Validation
//
// Normalize before Validate; Normalize fills zero values with the
// production defaults, so a zero Config is usable.
type Config struct {
	EnableDevin        bool            `json:"enable_devin"`
	MinSeverity        report.Severity `json:"min_severity" validate:"required,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	EnableAIAnalysis   bool            `json:"enable_ai_analysis"`
	DefaultRepo        string          `json:"default_repo,omitempty" validate:"reposlug"`
	MaxRequestsPerHour int             `json:"max_requests_per_hour" validate:"gte=1,lte=1000"`
	DedupWindow        time.Duration   `json:"-" validate:"gt=0"`
	Cooldown           time.Duration   `json:"-" validate:"gt=0"`
	SyncTimeout        time.Duration   `json:"-" validate:"gt=0"`
}

// DefaultConfig returns production defaults: routing and AI analysis
// enabled, ERROR threshold, 10 dispatches per hour, 1 h dedup window,
// 5 min post-merge cooldown.
func DefaultConfig() Config {
	return Config{
		EnableDevin:        true,
		MinSeverity:        report.SeverityError,
		EnableAIAnalysis:   true,
		MaxRequestsPerHour: quota.DefaultMaxRequestsPerHour,
		DedupWindow:        dedup.DefaultWindow,
		Cooldown:           history.DefaultPRMergeCooldown,
		SyncTimeout:        DefaultSyncTimeout,
	}
}

// Normalize fills zero fields with defaults and canonicalizes the
// severity name. Unknown severities become ERROR.
func (c *Config) Normalize() {
	c.MinSeverity = report.ParseSeverity(string(c.MinSeverity))
	if c.MaxRequestsPerHour <= 0 {
		c.MaxRequestsPerHour = quota.DefaultMaxRequestsPerHour
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = dedup.DefaultWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = history.DefaultPRMergeCooldown
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
}

// Validate validates the Config fields.
func (c *Config) Validate() error {
	return routerValidate.Struct(c)
}

// =============================================================================
// Partial Updates
// =============================================================================

// ConfigUpdate carries a partial configuration change. Nil fields keep
// their current value; duration fields use Go duration syntax ("5m",
// "1h30m").
type ConfigUpdate struct {
	EnableDevin        *bool   `json:"enable_devin,omitempty"`
	MinSeverity        *string `json:"min_severity,omitempty"`
	EnableAIAnalysis   *bool   `json:"enable_ai_analysis,omitempty"`
	DefaultRepo        *string `json:"default_repo,omitempty"`
	MaxRequestsPerHour *int    `json:"max_requests_per_hour,omitempty"`
	DedupWindow        *string `json:"dedup_window,omitempty"`
	Cooldown           *string `json:"pr_merge_cooldown,omitempty"`
}

// apply overlays the update onto cfg. Duration parse failures abort
// the whole update.
func (u ConfigUpdate) apply(cfg *Config) error {
	if u.EnableDevin != nil {
		cfg.EnableDevin = *u.EnableDevin
	}
	if u.MinSeverity != nil {
		cfg.MinSeverity = report.Severity(*u.MinSeverity)
	}
	if u.EnableAIAnalysis != nil {
		cfg.EnableAIAnalysis = *u.EnableAIAnalysis
	}
	if u.DefaultRepo != nil {
		cfg.DefaultRepo = *u.DefaultRepo
	}
	if u.MaxRequestsPerHour != nil {
		cfg.MaxRequestsPerHour = *u.MaxRequestsPerHour
	}
	if u.DedupWindow != nil {
		d, err := time.ParseDuration(*u.DedupWindow)
		if err != nil {
			return fmt.Errorf("invalid dedup_window: %w", err)
		}
		cfg.DedupWindow = d
	}
	if u.Cooldown != nil {
		d, err := time.ParseDuration(*u.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid pr_merge_cooldown: %w", err)
		}
		cfg.Cooldown = d
	}
	return nil
}

// =============================================================================
// Config File
// =============================================================================

// fileConfig is the on-disk YAML form. Durations are strings in Go
// duration syntax; absent fields keep their defaults.
type fileConfig struct {
	EnableDevin        *bool  `yaml:"enable_devin"`
	MinSeverity        string `yaml:"min_severity"`
	EnableAIAnalysis   *bool  `yaml:"enable_ai_analysis"`
	DefaultRepo        string `yaml:"default_repo"`
	MaxRequestsPerHour *int   `yaml:"max_requests_per_hour"`
	DedupWindow        string `yaml:"dedup_window"`
	Cooldown           string `yaml:"pr_merge_cooldown"`
	SyncTimeout        string `yaml:"sync_timeout"`
}

// LoadFile reads a YAML config file and overlays it on the defaults.
// The result is normalized and validated.
//
// # Example
//
//	enable_devin: true
//	min_severity: ERROR
//	enable_ai_analysis: true
//	default_repo: acme/agent
//	max_requests_per_hour: 10
//	dedup_window: 1h
//	pr_merge_cooldown: 5m
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file: %w", err)
	}

	cfg := DefaultConfig()
	if fc.EnableDevin != nil {
		cfg.EnableDevin = *fc.EnableDevin
	}
	if fc.MinSeverity != "" {
		cfg.MinSeverity = report.Severity(fc.MinSeverity)
	}
	if fc.EnableAIAnalysis != nil {
		cfg.EnableAIAnalysis = *fc.EnableAIAnalysis
	}
	if fc.DefaultRepo != "" {
		cfg.DefaultRepo = fc.DefaultRepo
	}
	if fc.MaxRequestsPerHour != nil {
		cfg.MaxRequestsPerHour = *fc.MaxRequestsPerHour
	}
	for _, f := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.DedupWindow, "dedup_window", &cfg.DedupWindow},
		{fc.Cooldown, "pr_merge_cooldown", &cfg.Cooldown},
		{fc.SyncTimeout, "sync_timeout", &cfg.SyncTimeout},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s in config file: %w", f.name, err)
		}
		*f.dst = d
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file failed validation: %w", err)
	}
	return cfg, nil
}

// AutoReviewDisabled reports whether the environment kill switch is
// set. Exposed so alternate dispatch surfaces can honor it without a
// Router.
func AutoReviewDisabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvDisableAutoReview))) {
	case "true", "1", "yes":
		return true
	}
	return false
}
