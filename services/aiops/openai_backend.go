// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend implements Backend on the OpenAI chat completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// kindPersonas are the system prompts selected per operation kind.
var kindPersonas = map[Kind]string{
	KindGeneration: "You are an expert application developer. Generate complete, runnable code for the user's request. Return code in fenced blocks.",
	KindReview:     "You are a meticulous code reviewer. Point out correctness, security, and style issues.",
	KindDebug:      "You are a debugging assistant. Diagnose the failure and return a corrected version of the code in a fenced block.",
	KindOptimize:   "You are a performance engineer. Improve the code without changing its behavior and return it in a fenced block.",
}

// NewOpenAIBackend builds a backend from OPENAI_API_KEY and OPENAI_MODEL.
func NewOpenAIBackend() (*OpenAIBackend, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI backend", "model", model)
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Generate implements the Backend interface.
func (o *OpenAIBackend) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	persona, ok := kindPersonas[req.Kind]
	if !ok {
		persona = kindPersonas[KindGeneration]
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: persona},
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Session context:\n" + req.Context,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return GenerateResult{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResult{}, fmt.Errorf("%w: empty completion", ErrBackendUnavailable)
	}

	content := resp.Choices[0].Message.Content
	return GenerateResult{
		Content: content,
		Code:    ExtractCodeBlock(content),
	}, nil
}

// classifyOpenAIError maps API failures onto the retry taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrBackendRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		case apiErr.HTTPStatusCode >= 400:
			return fmt.Errorf("%w: %v", ErrBackendRejected, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// Network-level failures are transient.
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// ExtractCodeBlock returns the contents of the first fenced code block in
// the text, or "" when there is none.
func ExtractCodeBlock(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	// Skip the language tag on the opening fence.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return ""
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimRight(rest[:end], "\n")
}

var _ Backend = (*OpenAIBackend)(nil)
