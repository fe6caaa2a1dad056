// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package prereq probes the external tools the pipeline depends on.
package prereq

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Tool reports the availability of one external binary
type Tool struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// Status is the result of a full prerequisite probe
type Status struct {
	FFmpeg       Tool   `json:"ffmpeg"`
	FFprobe      Tool   `json:"ffprobe"`
	Whisper      Tool   `json:"whisper"`
	LLMReachable bool   `json:"llmReachable"`
	LLMError     string `json:"llmError,omitempty"`
}

// probeTool looks a binary up on PATH
func probeTool(name string) Tool {
	path, err := exec.LookPath(name)
	if err != nil {
		return Tool{Name: name, Found: false}
	}
	return Tool{Name: name, Found: true, Path: path}
}

// Check probes ffmpeg, ffprobe, the whisper CLI and the LLM endpoint
func Check(ctx context.Context, llmBaseURL string) Status {
	status := Status{
		FFmpeg:  probeTool("ffmpeg"),
		FFprobe: probeTool("ffprobe"),
		Whisper: probeTool("whisper-cli"),
	}

	reachable, errMsg := probeLLM(ctx, llmBaseURL)
	status.LLMReachable = reachable
	status.LLMError = errMsg

	return status
}

// probeLLM checks the local LLM endpoint answers at all
func probeLLM(ctx context.Context, baseURL string) (bool, string) {
	client := &http.Client{Timeout: 3 * time.Second}

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/tags", nil)
	if err != nil {
		return false, err.Error()
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, resp.Status
	}
	return true, ""
}

// Model describes one installed whisper model file
type Model struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ListModels scans a directory for ggml-*.bin whisper model files
func ListModels(dir string) ([]Model, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Model{}, nil
		}
		return nil, err
	}

	var models []Model
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "ggml-") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		models = append(models, Model{
			Name:      strings.TrimSuffix(strings.TrimPrefix(name, "ggml-"), ".bin"),
			Path:      filepath.Join(dir, name),
			SizeBytes: info.Size(),
		})
	}

	if models == nil {
		models = []Model{}
	}
	return models, nil
}
