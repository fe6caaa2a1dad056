// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package transcribe

import (
	"math"
	"strings"
)

// MergeChunks joins sequential chunk transcriptions whose audio windows
// overlapped by overlapSeconds. The first chunk is taken verbatim; each
// subsequent chunk is scanned for a token-level overlap with the tail of the
// accumulated text and the matched prefix is skipped.
//
// The skip index is start+matchLength, which can leave a few shared words
// duplicated at a join when the alignment is partial. Duplication is the
// intended failure mode here; dropping real words is worse.
func MergeChunks(chunks []string, overlapSeconds float64) string {
	if len(chunks) == 0 {
		return ""
	}

	k := int(math.Ceil(2.5 * overlapSeconds))
	merged := strings.Fields(chunks[0])

	for _, chunk := range chunks[1:] {
		next := strings.Fields(chunk)
		if len(next) == 0 {
			continue
		}
		if len(merged) == 0 {
			merged = next
			continue
		}

		skip := overlapSkipIndex(merged, next, k)
		merged = append(merged, next[skip:]...)
	}

	return strings.Join(merged, " ")
}

// overlapSkipIndex finds where the new chunk stops re-stating the tail of the
// accumulated text. Candidate start positions up to 3k into the new chunk are
// compared against the last tokens of the accumulated text; the best
// candidate wins when at least 2 positions match.
func overlapSkipIndex(acc, next []string, k int) int {
	tail := normalizeTokens(acc)
	if len(tail) > 2*k {
		tail = tail[len(tail)-2*k:]
	}
	nextNorm := normalizeTokens(next)

	limit := 3 * k
	if limit > len(nextNorm) {
		limit = len(nextNorm)
	}

	bestMatches := 0
	bestIndex := 0
	for start := 0; start < limit; start++ {
		window := nextNorm[start:]
		if len(window) > k {
			window = window[:k]
		}
		cmpLen := len(window)
		if cmpLen > len(tail) {
			cmpLen = len(tail)
		}

		matches := 0
		for j := 0; j < cmpLen; j++ {
			if tail[len(tail)-cmpLen+j] == window[j] {
				matches++
			}
		}

		if matches > bestMatches {
			bestMatches = matches
			bestIndex = start + matches
		}
	}

	if bestMatches < 2 {
		return 0
	}
	if bestIndex > len(next) {
		return len(next)
	}
	return bestIndex
}

// normalizeTokens lowercases and strips non-alphanumerics for comparison
func normalizeTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = normalizeToken(tok)
	}
	return out
}
