// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package llm

import (
	"fmt"
	"strings"

	"github.com/tejzpr/whisperjournal/internal/database"
)

// brainDumpSections lists the fixed headings of the Daily Strategic Journal
// skeleton, in writing order.
var brainDumpSections = []string{
	"TL;DR",
	"Today in 6 Bullets",
	"What Actually Mattered",
	"Distractions vs Leverage",
	"Decisions",
	"Friction",
	"Emotional State",
	"Money",
	"90-day Extrapolation",
	"Identity Continuation",
	"Three Non-Negotiables",
	"Open Loops",
	"Identity Check",
	"Tags",
}

// BuildBrainDumpPrompt produces the single long prompt that turns a free
// voice transcript into the Daily Strategic Journal skeleton. The transcript
// is interpolated verbatim inside triple-quoted fences.
func BuildBrainDumpPrompt(transcript string) string {
	var b strings.Builder

	b.WriteString("You are a journaling assistant. Below is a raw voice transcript of someone ")
	b.WriteString("thinking out loud about their day. Rewrite it as a Daily Strategic Journal ")
	b.WriteString("with exactly the following sections, each as a '## ' markdown heading, in ")
	b.WriteString("this order:\n\n")

	for _, section := range brainDumpSections {
		b.WriteString("## ")
		b.WriteString(section)
		b.WriteString("\n")
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Use only information present in the transcript; never invent events.\n")
	b.WriteString("- Write in the first person, in the speaker's voice.\n")
	b.WriteString("- Keep every section, even if a section is a single line saying nothing applied today.\n")
	b.WriteString("- 'Today in 6 Bullets' is exactly six bullets.\n")
	b.WriteString("- 'Tags' is a single line of lowercase #hashtags.\n")
	b.WriteString("- Output only the sections, no preamble and no closing remarks.\n")
	b.WriteString("\nTranscript:\n\n")
	b.WriteString("\"\"\"\n")
	b.WriteString(transcript)
	b.WriteString("\n\"\"\"\n")

	return b.String()
}

// promptLabels maps prompt keys to the labels used in the reflection prompt
var promptLabels = map[string]string{
	database.PromptGratitude:       "Gratitude",
	database.PromptAccomplishments: "Accomplishments",
	database.PromptChallenges:      "Challenges",
	database.PromptTomorrow:        "Tomorrow",
}

// BuildReflectionPrompt concatenates the non-empty guided prompt answers and
// asks for a short first-person reflection paragraph.
func BuildReflectionPrompt(answers map[string]database.PromptAnswer) string {
	var b strings.Builder

	b.WriteString("Below are someone's answers to their daily reflection prompts. ")
	b.WriteString("Write a single first-person paragraph of 2-4 sentences that ties them ")
	b.WriteString("together, in a warm but plain tone. Output only the paragraph.\n\n")

	for _, key := range database.PromptKeys() {
		answer, ok := answers[key]
		if !ok {
			continue
		}
		text := answerText(answer)
		if text == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("%s: %s\n", promptLabels[key], text))
	}

	return b.String()
}

// answerText picks the best available text for a prompt answer
func answerText(a database.PromptAnswer) string {
	if strings.TrimSpace(a.Text) != "" {
		return strings.TrimSpace(a.Text)
	}
	if strings.TrimSpace(a.ExtractedText) != "" {
		return strings.TrimSpace(a.ExtractedText)
	}
	return strings.TrimSpace(a.AudioTranscript)
}
