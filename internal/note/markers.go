// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package note produces and mutates the structured Markdown journal
// documents. Sections are delimited by WHISPER_JOURNAL marker comments so
// later stages can rewrite one section without touching user edits around it.
package note

import (
	"fmt"
	"regexp"
	"strings"
)

// Section names recognized by the note template
const (
	SectionAudio           = "AUDIO"
	SectionJournal         = "JOURNAL"
	SectionGratitude       = "GRATITUDE"
	SectionAccomplishments = "ACCOMPLISHMENTS"
	SectionChallenges      = "CHALLENGES"
	SectionTomorrow        = "TOMORROW"
	SectionAIReflection    = "AI_REFLECTION"
	SectionSummary         = "SUMMARY"
	SectionTranscript      = "TRANSCRIPT"
	SectionRelated         = "RELATED"
)

// Section flags on the START marker
const (
	// FlagImmutable marks a section automated rewrites must not alter
	FlagImmutable = "immutable"
	// FlagGenerated marks an LLM-produced section that is safe to regenerate
	FlagGenerated = "generated"
)

// sectionHeaders maps template section names to the markdown heading written
// at the top of their bodies. JOURNAL is absent: its body carries the LLM's
// own headings.
var sectionHeaders = map[string]string{
	SectionAudio:           "## Audio",
	SectionGratitude:       "## Gratitude",
	SectionAccomplishments: "## Accomplishments",
	SectionChallenges:      "## Challenges",
	SectionTomorrow:        "## Tomorrow",
	SectionAIReflection:    "## Reflection",
	SectionSummary:         "## Summary",
	SectionTranscript:      "## Transcript",
	SectionRelated:         "## Related",
}

var (
	// startMarkerRegex matches `<!-- WHISPER_JOURNAL:NAME:START flags -->`
	startMarkerRegex = regexp.MustCompile(`^<!-- WHISPER_JOURNAL:([A-Z0-9_]+):START((?: [A-Za-z0-9_-]+)*) -->$`)
	// endMarkerRegex matches `<!-- WHISPER_JOURNAL:NAME:END -->`
	endMarkerRegex = regexp.MustCompile(`^<!-- WHISPER_JOURNAL:([A-Z0-9_]+):END -->$`)
)

// StartMarker renders the opening marker line for a section
func StartMarker(name string, flags ...string) string {
	if len(flags) == 0 {
		return fmt.Sprintf("<!-- WHISPER_JOURNAL:%s:START -->", name)
	}
	return fmt.Sprintf("<!-- WHISPER_JOURNAL:%s:START %s -->", name, strings.Join(flags, " "))
}

// EndMarker renders the closing marker line for a section
func EndMarker(name string) string {
	return fmt.Sprintf("<!-- WHISPER_JOURNAL:%s:END -->", name)
}

// matchStartMarker parses a START marker line, returning the section name and
// its flags. Unknown flags are preserved.
func matchStartMarker(line string) (name string, flags []string, ok bool) {
	m := startMarkerRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return "", nil, false
	}
	return m[1], strings.Fields(m[2]), true
}

// matchEndMarker parses an END marker line, returning the section name
func matchEndMarker(line string) (name string, ok bool) {
	m := endMarkerRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// HeaderFor returns the template heading for a known section name; unknown
// names get no heading.
func HeaderFor(name string) (string, bool) {
	h, ok := sectionHeaders[name]
	return h, ok
}
