// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package llm talks to the local Ollama-compatible endpoint that turns
// transcripts into structured journal bodies.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tejzpr/whisperjournal/internal/database"
)

// Client calls the local LLM endpoint
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// GenerateRequest is the request body for the generate endpoint
type GenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse is the response from the generate endpoint
type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Result carries the generated bodies per entry kind: Content for
// brain-dump, Reflection for daily-reflection. quick-note produces neither.
type Result struct {
	Content    string
	Reflection string
}

// NewClient creates a client for the configured endpoint and model. The call
// is synchronous and can be slow on local hardware; no application-level
// timeout is imposed beyond the transport's.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{},
	}
}

// Generate produces the structured text for an entry. quick-note entries
// return an empty result without calling the endpoint.
func (c *Client) Generate(ctx context.Context, transcript string, answers map[string]database.PromptAnswer, kind string) (Result, error) {
	switch kind {
	case database.KindQuickNote:
		return Result{}, nil
	case database.KindBrainDump:
		response, err := c.generate(ctx, BuildBrainDumpPrompt(transcript))
		if err != nil {
			return Result{}, err
		}
		return Result{Content: response}, nil
	case database.KindDailyReflection:
		response, err := c.generate(ctx, BuildReflectionPrompt(answers))
		if err != nil {
			return Result{}, err
		}
		return Result{Reflection: response}, nil
	default:
		return Result{}, fmt.Errorf("unknown entry kind: %s", kind)
	}
}

// generate POSTs one prompt to {base}/api/generate and returns the response
// text. Non-2xx statuses and transport errors surface as errors for the
// runner to record.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": 0.7,
			"num_predict": 4096,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read LLM response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("LLM endpoint returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse LLM response: %w", err)
	}

	return genResp.Response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
