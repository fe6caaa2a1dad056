// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package note

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tejzpr/whisperjournal/internal/database"
	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML block at the top of every written note. Field order
// matters for readability in the vault, so this is a struct, not a map.
type Frontmatter struct {
	ID            string   `yaml:"id"`
	Created       string   `yaml:"created"`
	CreatedLocal  string   `yaml:"created_local"`
	Timezone      string   `yaml:"timezone"`
	EntryDate     string   `yaml:"entry_date"`
	Type          string   `yaml:"type"`
	AudioDuration int      `yaml:"audio_duration,omitempty"`
	AudioFile     string   `yaml:"audio_file,omitempty"`
	Tags          []string `yaml:"tags,flow"`
}

// NewFrontmatter builds the frontmatter for an entry
func NewFrontmatter(entry *database.Entry) (*Frontmatter, error) {
	loc, err := time.LoadLocation(entry.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", entry.Timezone, err)
	}

	fm := &Frontmatter{
		ID:           entry.ID,
		Created:      entry.CreatedAt.UTC().Format(time.RFC3339),
		CreatedLocal: entry.CreatedAt.In(loc).Format("2006-01-02T15:04:05-07:00"),
		Timezone:     entry.Timezone,
		EntryDate:    entry.EntryDate,
		Type:         entry.Kind,
		Tags:         []string{"journal", entry.Kind},
	}

	if entry.AudioDuration > 0 {
		fm.AudioDuration = int(math.Round(entry.AudioDuration))
	}
	if entry.OriginalAudioPath != "" {
		fm.AudioFile = VaultRelativeAudio(entry.OriginalAudioPath)
	}

	return fm, nil
}

// Encode renders the frontmatter block including its --- delimiters
func (fm *Frontmatter) Encode() (string, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")

	data, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal frontmatter: %w", err)
	}
	buf.Write(data)

	buf.WriteString("---\n")
	return buf.String(), nil
}

// ParseFrontmatter splits a document into its frontmatter and body. Documents
// without a frontmatter block return an empty Frontmatter and the full body.
func ParseFrontmatter(content string) (*Frontmatter, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return &Frontmatter{}, content, nil
	}

	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, "", fmt.Errorf("frontmatter not properly closed")
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return nil, "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	body := rest[end+len("\n---\n"):]
	return &fm, body, nil
}
