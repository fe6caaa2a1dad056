// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package audio wraps the external ffmpeg/ffprobe binaries: duration probing,
// normalization to the canonical mono 16 kHz 16-bit PCM WAV, and splitting
// long recordings into overlapping chunks.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Canonical sample format for everything downstream of normalization
const (
	SampleRate = 16000
	Channels   = 1
)

// MaxSegments is the safety ceiling on the number of split segments
const MaxSegments = 100

// OnStart hands the spawned child process to the caller so it can be killed
// on cancellation. It fires after Start, before Wait.
type OnStart func(cmd *exec.Cmd)

// Tools invokes ffmpeg and ffprobe
type Tools struct {
	FFmpegPath  string
	FFprobePath string
}

// NewTools returns Tools bound to the binaries found on PATH
func NewTools() *Tools {
	return &Tools{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

// Probe measures the duration of an audio file in seconds
func (t *Tools) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, lastLine(stderr.String()))
	}

	raw := strings.TrimSpace(stdout.String())
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", raw, err)
	}

	return duration, nil
}

// Normalize resamples the source into a mono 16 kHz 16-bit PCM WAV at dst,
// overwriting any previous output. onStart, when non-nil, receives the child
// process handle for cancellation.
func (t *Tools) Normalize(ctx context.Context, src, dst string, onStart OnStart) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", src,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-c:a", "pcm_s16le",
		dst,
	}

	return t.runFFmpeg(ctx, args, onStart)
}

// Segment is one planned split window
type Segment struct {
	Index    int
	Start    float64 // seconds from the beginning of the source
	Duration float64 // seconds; the tail segment may be shorter than the window
	Path     string  // set once the chunk file is produced
}

// PlanSegments computes the overlapping window layout: segment i covers
// [i*(window-overlap), min(i*(window-overlap)+window, total)]. Exceeding
// MaxSegments is a fatal error.
func PlanSegments(total, window, overlap float64) ([]Segment, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("overlap must be in [0, window), got %v", overlap)
	}

	if total <= 0 {
		return nil, nil
	}

	step := window - overlap
	var segments []Segment
	for start := 0.0; ; start += step {
		dur := window
		if start+dur > total {
			dur = total - start
		}
		segments = append(segments, Segment{
			Index:    len(segments),
			Start:    start,
			Duration: dur,
		})
		if len(segments) > MaxSegments {
			return nil, fmt.Errorf("audio splits into more than %d segments", MaxSegments)
		}
		if start+dur >= total {
			break
		}
	}

	return segments, nil
}

// Split cuts the normalized source into overlapping chunk files named
// chunk_NNN.wav inside dir, inheriting the canonical sample format.
func (t *Tools) Split(ctx context.Context, src, dir string, total, window, overlap float64, onStart OnStart) ([]Segment, error) {
	segments, err := PlanSegments(total, window, overlap)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	for i := range segments {
		seg := &segments[i]
		seg.Path = filepath.Join(dir, fmt.Sprintf("chunk_%03d.wav", seg.Index))

		args := []string{
			"-y",
			"-ss", formatSeconds(seg.Start),
			"-t", formatSeconds(seg.Duration),
			"-i", src,
			"-ar", strconv.Itoa(SampleRate),
			"-ac", strconv.Itoa(Channels),
			"-c:a", "pcm_s16le",
			seg.Path,
		}
		if err := t.runFFmpeg(ctx, args, onStart); err != nil {
			return nil, fmt.Errorf("failed to cut segment %d: %w", seg.Index, err)
		}
	}

	return segments, nil
}

// Remove deletes an audio file; a missing file is not an error
func (t *Tools) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove audio file: %w", err)
	}
	return nil
}

// runFFmpeg runs one ffmpeg invocation, surfacing the last diagnostic line
// from stderr on nonzero exit.
func (t *Tools) runFFmpeg(ctx context.Context, args []string, onStart OnStart) error {
	cmd := exec.CommandContext(ctx, t.FFmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	if onStart != nil {
		onStart(cmd)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}

	return nil
}

// formatSeconds renders a duration for ffmpeg's -ss/-t flags
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// lastLine returns the final non-empty line of tool output
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
