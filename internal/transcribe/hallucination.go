// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package transcribe

import (
	"fmt"
	"strings"
)

// expectedCharsPerSecond is the baseline production rate of normal speech
const expectedCharsPerSecond = 5.0

// Detection is the outcome of a hallucination check on one chunk
type Detection struct {
	Flagged    bool
	Confidence float64
	Reason     string
}

// Detect screens a transcription for the pathological output patterns the
// speech tool produces on silence or noise: empty text, under-production,
// phrase looping, and a single token dominating.
func Detect(text string, seconds float64) Detection {
	trimmed := strings.TrimSpace(text)

	if trimmed == "" {
		return Detection{Flagged: true, Confidence: 1.0, Reason: "empty transcription"}
	}

	if float64(len(trimmed)) < 0.3*expectedCharsPerSecond*seconds {
		return Detection{
			Flagged:    true,
			Confidence: 0.8,
			Reason: fmt.Sprintf("under-produced text: %d chars for %.0fs of audio",
				len(trimmed), seconds),
		}
	}

	tokens := strings.Fields(strings.ToLower(trimmed))

	if phrase, ok := findRepeatedPhrase(tokens); ok {
		return Detection{
			Flagged:    true,
			Confidence: 0.95,
			Reason:     fmt.Sprintf("phrase repetition: %q repeats 3+ times back-to-back", phrase),
		}
	}

	if token, share, ok := findDominantToken(tokens); ok {
		return Detection{
			Flagged:    true,
			Confidence: 0.7,
			Reason:     fmt.Sprintf("dominant token: %q accounts for %.0f%% of output", token, share*100),
		}
	}

	return Detection{}
}

// findRepeatedPhrase looks for a contiguous phrase repeating at least three
// times back-to-back. Phrase lengths from 1 to 12 tokens are scanned; the
// single-token case catches the classic "yes yes yes" loop.
func findRepeatedPhrase(tokens []string) (string, bool) {
	for length := 1; length <= 12; length++ {
		for start := 0; start+3*length <= len(tokens); start++ {
			if samePhrase(tokens, start, start+length, length) &&
				samePhrase(tokens, start, start+2*length, length) {
				return strings.Join(tokens[start:start+length], " "), true
			}
		}
	}
	return "", false
}

// samePhrase reports whether tokens[a:a+n] equals tokens[b:b+n]
func samePhrase(tokens []string, a, b, n int) bool {
	for i := 0; i < n; i++ {
		if tokens[a+i] != tokens[b+i] {
			return false
		}
	}
	return true
}

// findDominantToken reports a normalized token of length > 2 that accounts
// for more than 20% of all tokens and appears more than 10 times.
func findDominantToken(tokens []string) (string, float64, bool) {
	if len(tokens) == 0 {
		return "", 0, false
	}

	counts := make(map[string]int)
	for _, tok := range tokens {
		norm := normalizeToken(tok)
		if len(norm) > 2 {
			counts[norm]++
		}
	}

	for token, count := range counts {
		share := float64(count) / float64(len(tokens))
		if count > 10 && share > 0.2 {
			return token, share, true
		}
	}

	return "", 0, false
}

// normalizeToken lowercases and strips non-alphanumeric runes
func normalizeToken(tok string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tok) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
