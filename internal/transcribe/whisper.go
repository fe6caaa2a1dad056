// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package transcribe runs speech-to-text over normalized WAV audio: one-shot
// for short clips, chunked with hallucination screening and overlap-aware
// merging for long ones.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tejzpr/whisperjournal/internal/audio"
)

// DefaultChunkSeconds is the chunk window when none is configured
const DefaultChunkSeconds = 60

// ChunkOverlapSeconds is the overlap between adjacent chunks
const ChunkOverlapSeconds = 5.0

// DefaultThreads is the thread count handed to the speech tool
const DefaultThreads = 4

// Options configures the speech tool invocation
type Options struct {
	BinaryPath   string // whisper-cli binary; defaults to PATH lookup
	ModelPath    string
	Language     string // empty means auto
	Priming      string // optional initial prompt carried across segments
	VADEnabled   bool
	VADModelPath string
	ChunkSeconds int
	Threads      int
}

// Transcriber drives the external speech tool
type Transcriber struct {
	opts  Options
	tools *audio.Tools
}

// New creates a transcriber; tools is used to split long audio into chunks
func New(opts Options, tools *audio.Tools) *Transcriber {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "whisper-cli"
	}
	if opts.Language == "" {
		opts.Language = "auto"
	}
	if opts.ChunkSeconds <= 0 {
		opts.ChunkSeconds = DefaultChunkSeconds
	}
	if opts.Threads <= 0 {
		opts.Threads = DefaultThreads
	}
	return &Transcriber{opts: opts, tools: tools}
}

// buildArgs assembles the whisper-cli argument list. The conservative set is
// used on hallucination retries: narrower beam, fixed temperature, fewer
// threads, stricter VAD.
func (t *Transcriber) buildArgs(wav, outPrefix string, conservative bool) []string {
	args := []string{
		"-m", t.opts.ModelPath,
		"-f", wav,
		"-l", t.opts.Language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"--entropy-thold", "2.4",
		"--no-fallback",
	}

	if conservative {
		args = append(args,
			"-bs", "3",
			"-bo", "3",
			"-tp", "0.0",
			"-t", strconv.Itoa(maxInt(2, t.opts.Threads/2)),
		)
	} else {
		args = append(args,
			"-bs", "5",
			"-bo", "5",
			"-t", strconv.Itoa(t.opts.Threads),
		)
	}

	if t.opts.VADEnabled {
		threshold := "0.5"
		if conservative {
			threshold = "0.6"
		}
		args = append(args,
			"--vad",
			"--vad-threshold", threshold,
			"--vad-min-speech-duration-ms", "250",
			"--vad-min-silence-duration-ms", "100",
		)
		if t.opts.VADModelPath != "" {
			args = append(args, "--vad-model", t.opts.VADModelPath)
		}
	}

	if t.opts.Priming != "" {
		args = append(args, "--prompt", t.opts.Priming, "--carry-initial-prompt")
	}

	return args
}

// transcribeOne runs the speech tool over one WAV. The tool writes a
// companion <outPrefix>.txt; it is read, trimmed and deleted.
func (t *Transcriber) transcribeOne(ctx context.Context, wav, outPrefix string, conservative bool, onStart audio.OnStart) (string, error) {
	args := t.buildArgs(wav, outPrefix, conservative)

	cmd := exec.CommandContext(ctx, t.opts.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start speech tool: %w", err)
	}
	if onStart != nil {
		onStart(cmd)
	}
	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("speech tool failed: %w: %s", err, lastLine(stderr.String()))
	}

	txtPath := outPrefix + ".txt"
	data, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("failed to read transcription output: %w", err)
	}
	_ = os.Remove(txtPath)

	return strings.TrimSpace(string(data)), nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
