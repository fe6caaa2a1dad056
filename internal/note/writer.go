// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package note

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tejzpr/whisperjournal/internal/database"
)

// Vault layout: notes live in journal/, audio beside them in journal/audio/
const (
	NotesDir = "journal"
	AudioDir = "journal/audio"
)

// Writer produces and mutates notes under the vault root
type Writer struct {
	VaultPath string
}

// NewWriter creates a writer rooted at the vault
func NewWriter(vaultPath string) *Writer {
	return &Writer{VaultPath: vaultPath}
}

// kindTitles maps entry kinds to human note titles
var kindTitles = map[string]string{
	database.KindBrainDump:       "Brain Dump",
	database.KindDailyReflection: "Daily Reflection",
	database.KindQuickNote:       "Quick Note",
}

// Filename computes the note filename from the entry's creation instant
// projected into its timezone: YYYY-MM-DD-HHmmss-<kind>.md
func Filename(entry *database.Entry) (string, error) {
	loc, err := time.LoadLocation(entry.Timezone)
	if err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", entry.Timezone, err)
	}
	local := entry.CreatedAt.In(loc)
	return fmt.Sprintf("%s-%s.md", local.Format("2006-01-02-150405"), entry.Kind), nil
}

// VaultRelativeAudio rewrites a vault-rooted audio path for use inside a
// note. Notes live in journal/ and audio in journal/audio/, so references
// are audio/<filename>.
func VaultRelativeAudio(vaultPath string) string {
	return "audio/" + filepath.Base(vaultPath)
}

// notePath returns the absolute path for a note's vault-relative path
func (w *Writer) notePath(relPath string) string {
	return filepath.Join(w.VaultPath, filepath.FromSlash(relPath))
}

// sectionSpec is one section of the canonical document, in writing order
type sectionSpec struct {
	name  string
	flags []string
	body  string
}

// WriteNote produces the entire document deterministically from the entry
// and its inputs, writes it atomically, and returns the vault-relative path
// with the post-rename modification time.
func (w *Writer) WriteNote(entry *database.Entry, transcript string, answers map[string]database.PromptAnswer, generated map[string]string) (string, time.Time, error) {
	fm, err := NewFrontmatter(entry)
	if err != nil {
		return "", time.Time{}, err
	}
	fmBlock, err := fm.Encode()
	if err != nil {
		return "", time.Time{}, err
	}

	filename, err := Filename(entry)
	if err != nil {
		return "", time.Time{}, err
	}

	loc, _ := time.LoadLocation(entry.Timezone)
	title := fmt.Sprintf("%s - %s", kindTitles[entry.Kind], entry.CreatedAt.In(loc).Format("Monday, January 2, 2006"))

	var b strings.Builder
	b.WriteString(fmBlock)
	b.WriteString("\n# ")
	b.WriteString(title)
	b.WriteString("\n\n#journal #")
	b.WriteString(entry.Kind)
	b.WriteString("\n")

	for _, spec := range w.buildSections(entry, transcript, answers, generated) {
		b.WriteString("\n")
		b.WriteString(StartMarker(spec.name, spec.flags...))
		b.WriteString("\n")
		if spec.body != "" {
			b.WriteString(spec.body)
			b.WriteString("\n")
		}
		b.WriteString(EndMarker(spec.name))
		b.WriteString("\n")
	}

	relPath := NotesDir + "/" + filename
	mtime, err := atomicWrite(w.notePath(relPath), []byte(b.String()))
	if err != nil {
		return "", time.Time{}, err
	}

	return relPath, mtime, nil
}

// buildSections assembles the canonical section list for an entry kind
func (w *Writer) buildSections(entry *database.Entry, transcript string, answers map[string]database.PromptAnswer, generated map[string]string) []sectionSpec {
	var specs []sectionSpec

	if entry.OriginalAudioPath != "" {
		audioRef := VaultRelativeAudio(entry.OriginalAudioPath)
		body := fmt.Sprintf("## Audio\n\n![[%s]]\n\n[Original audio](%s)", audioRef, audioRef)
		specs = append(specs, sectionSpec{
			name:  SectionAudio,
			flags: []string{FlagImmutable},
			body:  body,
		})
	}

	switch entry.Kind {
	case database.KindBrainDump:
		specs = append(specs, sectionSpec{
			name:  SectionJournal,
			flags: []string{FlagGenerated},
			body:  strings.TrimSpace(generated[SectionJournal]),
		})
	case database.KindDailyReflection:
		for _, key := range database.PromptKeys() {
			name := promptSectionName(key)
			header, _ := HeaderFor(name)
			body := header
			if text := promptText(answers[key]); text != "" {
				body = header + "\n\n" + text
			}
			specs = append(specs, sectionSpec{name: name, body: body})
		}
		reflectionBody, _ := HeaderFor(SectionAIReflection)
		if text := strings.TrimSpace(generated[SectionAIReflection]); text != "" {
			reflectionBody = reflectionBody + "\n\n" + text
		}
		specs = append(specs, sectionSpec{
			name:  SectionAIReflection,
			flags: []string{FlagGenerated},
			body:  reflectionBody,
		})
	}

	if summary := strings.TrimSpace(generated[SectionSummary]); summary != "" {
		header, _ := HeaderFor(SectionSummary)
		specs = append(specs, sectionSpec{
			name:  SectionSummary,
			flags: []string{FlagGenerated},
			body:  header + "\n\n" + summary,
		})
	}

	// The transcript is always written and never rewritten by automation.
	// For quick-note it is the primary content; the other kinds tuck it
	// behind an expandable details element.
	transcriptBody := "## Transcript\n\n" + strings.TrimSpace(transcript)
	if entry.Kind != database.KindQuickNote {
		transcriptBody = detailsWrap(strings.TrimSpace(transcript))
	}
	specs = append(specs, sectionSpec{
		name:  SectionTranscript,
		flags: []string{FlagImmutable},
		body:  transcriptBody,
	})

	relatedHeader, _ := HeaderFor(SectionRelated)
	specs = append(specs, sectionSpec{
		name:  SectionRelated,
		flags: []string{FlagGenerated},
		body:  relatedHeader,
	})

	return specs
}

// promptSectionName maps a prompt key to its section name
func promptSectionName(key string) string {
	switch key {
	case database.PromptGratitude:
		return SectionGratitude
	case database.PromptAccomplishments:
		return SectionAccomplishments
	case database.PromptChallenges:
		return SectionChallenges
	default:
		return SectionTomorrow
	}
}

// promptText picks the best available text for a prompt answer
func promptText(a database.PromptAnswer) string {
	if t := strings.TrimSpace(a.Text); t != "" {
		return t
	}
	if t := strings.TrimSpace(a.ExtractedText); t != "" {
		return t
	}
	return strings.TrimSpace(a.AudioTranscript)
}

// detailsWrap wraps a transcript in the expandable-details element
func detailsWrap(text string) string {
	return "<details>\n<summary>Raw Transcript</summary>\n\n" + text + "\n\n</details>"
}

// UpdateSection strict-parses the note at relPath, replaces exactly the body
// between the named section's markers, and atomically rewrites the file.
// Everything outside the markers is preserved byte-for-byte.
func (w *Writer) UpdateSection(relPath, name, body string) (time.Time, error) {
	path := w.notePath(relPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read note: %w", err)
	}
	content := string(data)

	sections, err := ParseStrict(content)
	if err != nil {
		return time.Time{}, err
	}

	sec, ok := FindSection(sections, name)
	if !ok {
		return time.Time{}, fmt.Errorf("section %s not found in note", name)
	}

	updated := spliceSection(content, sec, body)
	return atomicWrite(path, []byte(updated))
}

// UpdateContent replaces several section bodies at once. For TRANSCRIPT the
// existing wrapper style is preserved (expandable details vs plain heading);
// known template sections get their heading back; names unknown to the
// template pass through as-is. Sections not present in the file are skipped.
func (w *Writer) UpdateContent(entry *database.Entry, bodies map[string]string) (time.Time, error) {
	if entry.NotePath == "" {
		return time.Time{}, fmt.Errorf("entry has no note")
	}

	path := w.notePath(entry.NotePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read note: %w", err)
	}
	content := string(data)

	sections, err := ParseStrict(content)
	if err != nil {
		return time.Time{}, err
	}

	// Collect present sections and splice back-to-front so earlier offsets
	// stay valid.
	type replacement struct {
		sec  *Section
		body string
	}
	var repls []replacement
	for name, body := range bodies {
		sec, ok := FindSection(sections, name)
		if !ok {
			continue
		}
		repls = append(repls, replacement{sec: sec, body: renderBody(name, body, sec)})
	}
	sort.Slice(repls, func(i, j int) bool {
		return repls[i].sec.BodyStart > repls[j].sec.BodyStart
	})

	for _, r := range repls {
		content = spliceSection(content, r.sec, r.body)
	}

	return atomicWrite(path, []byte(content))
}

// renderBody applies the template rules when rewriting one section body
func renderBody(name, body string, existing *Section) string {
	body = strings.TrimSpace(body)

	if name == SectionTranscript {
		if strings.Contains(existing.Body, "<details>") {
			return detailsWrap(body)
		}
		return "## Transcript\n\n" + body
	}

	if name == SectionJournal {
		return body
	}

	if header, ok := HeaderFor(name); ok {
		if body == "" {
			return header
		}
		return header + "\n\n" + body
	}

	return body
}

// spliceSection rebuilds the document with one section body replaced
func spliceSection(content string, sec *Section, body string) string {
	region := ""
	if body = strings.TrimRight(body, "\n"); body != "" {
		region = body + "\n"
	}
	return content[:sec.BodyStart] + region + content[sec.BodyEnd:]
}

// ReadNote reads an entry's note; a missing file returns found=false
func (w *Writer) ReadNote(entry *database.Entry) (string, bool, error) {
	if entry.NotePath == "" {
		return "", false, nil
	}

	data, err := os.ReadFile(w.notePath(entry.NotePath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read note: %w", err)
	}

	return string(data), true, nil
}

// HasExternalEdits reports whether the note's current mtime is strictly
// greater than the one recorded after the last write.
func (w *Writer) HasExternalEdits(entry *database.Entry) (bool, error) {
	if entry.NotePath == "" || entry.NoteMtime == nil {
		return false, nil
	}

	info, err := os.Stat(w.notePath(entry.NotePath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat note: %w", err)
	}

	return info.ModTime().After(*entry.NoteMtime), nil
}

// atomicWrite writes via a temp file in the target directory and renames it
// into place, so readers only ever observe the old or the new content.
func atomicWrite(path string, data []byte) (time.Time, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return time.Time{}, fmt.Errorf("failed to create note directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".note-*.tmp")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return time.Time{}, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return time.Time{}, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return time.Time{}, fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return time.Time{}, fmt.Errorf("failed to replace note: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat written note: %w", err)
	}

	return info.ModTime(), nil
}
