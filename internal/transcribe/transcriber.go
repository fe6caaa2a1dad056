// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package transcribe

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tejzpr/whisperjournal/internal/audio"
)

// OnChunk reports per-chunk progress to the caller (the worker refreshes its
// heartbeat and stage message from it).
type OnChunk func(index, total int)

// alternative is a reviewer-facing secondary transcription for a chunk the
// hallucination detector flagged.
type alternative struct {
	Index  int
	Reason string
	Text   string
}

// Transcribe converts a normalized WAV into text. Audio at or under the chunk
// window runs single-shot; longer audio is split into overlapping chunks that
// are transcribed sequentially, screened for hallucination, and merged.
func (t *Transcriber) Transcribe(ctx context.Context, wav string, duration float64, tempDir string, onStart audio.OnStart, onChunk OnChunk) (string, error) {
	window := float64(t.opts.ChunkSeconds)

	if duration <= window {
		if onChunk != nil {
			onChunk(0, 1)
		}
		return t.transcribeOne(ctx, wav, filepath.Join(tempDir, "single"), false, onStart)
	}

	segments, err := t.tools.Split(ctx, wav, tempDir, duration, window, ChunkOverlapSeconds, onStart)
	if err != nil {
		return "", fmt.Errorf("failed to split audio: %w", err)
	}

	texts := make([]string, len(segments))
	var alternatives []alternative

	for i, seg := range segments {
		if onChunk != nil {
			onChunk(i, len(segments))
		}

		prefix := filepath.Join(tempDir, fmt.Sprintf("out_%03d", seg.Index))
		text, err := t.transcribeOne(ctx, seg.Path, prefix, false, onStart)
		if err != nil {
			return "", fmt.Errorf("chunk %d: %w", seg.Index, err)
		}

		detection := Detect(text, seg.Duration)
		if !detection.Flagged {
			texts[i] = text
			continue
		}

		// Conservative retry: narrower beam, fixed temperature. If the retry
		// passes the check it becomes the primary text and the flagged output
		// is kept as the reviewer-facing alternative; if both are flagged,
		// the original stays primary.
		retryPrefix := filepath.Join(tempDir, fmt.Sprintf("retry_%03d", seg.Index))
		retry, err := t.transcribeOne(ctx, seg.Path, retryPrefix, true, onStart)
		if err != nil {
			return "", fmt.Errorf("chunk %d retry: %w", seg.Index, err)
		}

		if retryDetection := Detect(retry, seg.Duration); !retryDetection.Flagged {
			texts[i] = retry
			alternatives = append(alternatives, alternative{
				Index:  seg.Index,
				Reason: detection.Reason,
				Text:   text,
			})
		} else {
			texts[i] = text
			alternatives = append(alternatives, alternative{
				Index:  seg.Index,
				Reason: detection.Reason,
				Text:   retry,
			})
		}
	}

	merged := MergeChunks(texts, ChunkOverlapSeconds)
	return appendAlternatives(merged, alternatives), nil
}

// appendAlternatives attaches the advisory alternative-transcription block.
// This is reviewer content, not an error: the human at awaiting_review sees
// both readings and keeps whichever is right.
func appendAlternatives(merged string, alts []alternative) string {
	if len(alts) == 0 {
		return merged
	}

	var b strings.Builder
	b.WriteString(merged)
	b.WriteString("\n\n---\n\n")
	b.WriteString("Alternative transcriptions (possible hallucination detected):\n")
	for _, alt := range alts {
		text := alt.Text
		if strings.TrimSpace(text) == "" {
			text = "(empty)"
		}
		b.WriteString(fmt.Sprintf("\n[chunk %d] %s:\n%s\n", alt.Index, alt.Reason, text))
	}

	return b.String()
}
