// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm abstracts the language-model backend used by the
// duplicate classifier. Two backends exist: the Anthropic messages
// API (default) and an OpenAI-compatible endpoint. Both are thin;
// prompt construction and response parsing live in the analyzer.
package llm

import (
	"context"
	"log/slog"
	"os"
)

// EnvBackend selects the classifier backend: "openai" or "anthropic"
// (default).
const EnvBackend = "TRIAGE_LLM_BACKEND"

// Params tunes one completion call.
type Params struct {
	// MaxTokens caps the response length. Non-positive uses the
	// backend default.
	MaxTokens int

	// Temperature is optional; nil uses the backend default.
	Temperature *float32
}

// Client is a single-turn completion backend.
type Client interface {
	// Complete sends one system + user prompt pair and returns the
	// text of the response.
	Complete(ctx context.Context, system, user string, params Params) (string, error)

	// Configured reports whether the backend has credentials. An
	// unconfigured backend always fails Complete; callers degrade
	// before building prompts.
	Configured() bool
}

// NewFromEnv constructs the backend named by TRIAGE_LLM_BACKEND.
// Unknown or empty values select Anthropic.
func NewFromEnv(logger *slog.Logger) Client {
	switch os.Getenv(EnvBackend) {
	case "openai":
		return NewOpenAI(OpenAIConfig{Logger: logger})
	default:
		return NewAnthropic(AnthropicConfig{Logger: logger})
	}
}
