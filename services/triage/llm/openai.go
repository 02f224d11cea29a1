// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultOpenAIModel is the classification model when none is
	// configured.
	DefaultOpenAIModel = "gpt-4o-mini"

	// EnvOpenAIKey is the environment variable holding the API key.
	EnvOpenAIKey = "OPENAI_API_KEY"

	openaiSecretPath = "/run/secrets/openai_api_key"
	openaiTimeout    = 60 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible backend. BaseURL may
// point at any chat-completions server that speaks the OpenAI wire
// format, which is how self-hosted deployments run the classifier.
type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// OpenAI calls a chat-completions endpoint via go-openai.
type OpenAI struct {
	client *openai.Client
	model  string
	apiKey string
	logger *slog.Logger
}

// NewOpenAI builds the backend. The API key is taken from cfg, then
// the OPENAI_API_KEY environment variable, then the container secret
// file. A missing key leaves the backend unconfigured; the classifier
// fails open.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIKey)
	}
	if apiKey == "" {
		if content, err := os.ReadFile(openaiSecretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
		}
	}

	model := cfg.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = openaiTimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		apiKey: apiKey,
		logger: logger,
	}
}

// Configured implements Client.
func (o *OpenAI) Configured() bool {
	return o.apiKey != ""
}

// Complete implements Client.
func (o *OpenAI) Complete(ctx context.Context, system, user string, params Params) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY is missing")
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = params.MaxTokens
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}

	o.logger.Debug("sending classification request", "model", o.model)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
