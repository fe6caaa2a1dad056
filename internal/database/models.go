// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"
)

// Entry kinds
const (
	KindBrainDump       = "brain-dump"
	KindDailyReflection = "daily-reflection"
	KindQuickNote       = "quick-note"
)

// ValidKinds returns all valid entry kinds
func ValidKinds() []string {
	return []string{KindBrainDump, KindDailyReflection, KindQuickNote}
}

// IsValidKind checks if an entry kind is valid
func IsValidKind(kind string) bool {
	for _, valid := range ValidKinds() {
		if kind == valid {
			return true
		}
	}
	return false
}

// Pipeline stages
const (
	StagePending         = "pending"
	StageQueued          = "queued"
	StageNormalizing     = "normalizing"
	StageTranscribing    = "transcribing"
	StageAwaitingReview  = "awaiting_review"
	StageAwaitingPrompts = "awaiting_prompts"
	StageGenerating      = "generating"
	StageWriting         = "writing"
	StageCompleted       = "completed"
	StageFailed          = "failed"
	StageCancelRequested = "cancel_requested"
	StageCancelled       = "cancelled"
)

// RunningStages are the stages during which a worker holds the lease and is
// doing work. Entries found in one of these with a stale heartbeat get reset.
func RunningStages() []string {
	return []string{StageNormalizing, StageTranscribing, StageGenerating, StageWriting}
}

// CancellableStages are the stages from which a cancel request is accepted.
func CancellableStages() []string {
	return []string{StageQueued, StageNormalizing, StageTranscribing, StageGenerating, StageWriting}
}

// TerminalStages are stages an entry never leaves.
func TerminalStages() []string {
	return []string{StageCompleted, StageFailed, StageCancelled}
}

// IsTerminalStage reports whether a stage is terminal.
func IsTerminalStage(stage string) bool {
	for _, s := range TerminalStages() {
		if stage == s {
			return true
		}
	}
	return false
}

// IsCancellableStage reports whether a cancel request is accepted in a stage.
func IsCancellableStage(stage string) bool {
	for _, s := range CancellableStages() {
		if stage == s {
			return true
		}
	}
	return false
}

// Prompt keys for the daily-reflection guided prompts
const (
	PromptGratitude       = "gratitude"
	PromptAccomplishments = "accomplishments"
	PromptChallenges      = "challenges"
	PromptTomorrow        = "tomorrow"
)

// PromptKeys returns the guided prompt keys in presentation order
func PromptKeys() []string {
	return []string{PromptGratitude, PromptAccomplishments, PromptChallenges, PromptTomorrow}
}

// IsValidPromptKey checks if a prompt key is one of the guided prompts
func IsValidPromptKey(key string) bool {
	for _, valid := range PromptKeys() {
		if key == valid {
			return true
		}
	}
	return false
}

// PromptAnswer holds one guided prompt answer
type PromptAnswer struct {
	Text            string `json:"text"`
	ExtractedText   string `json:"extractedText,omitempty"`
	AudioTranscript string `json:"audioTranscript,omitempty"`
}

// Entry is the central entity driven through the pipeline
type Entry struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Timezone  string `gorm:"not null" json:"timezone"`
	EntryDate string `gorm:"index;not null" json:"entryDate"` // local calendar date YYYY-MM-DD
	Kind      string `gorm:"index;not null" json:"entryType"`

	Stage        string `gorm:"index;not null" json:"stage"`
	StageMessage string `json:"stageMessage,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Worker lease
	LockedBy    string     `gorm:"index" json:"-"`
	LockedAt    *time.Time `json:"-"`
	HeartbeatAt *time.Time `json:"-"`

	// Audio, vault-relative paths
	OriginalAudioPath   string  `json:"originalAudioPath,omitempty"`
	NormalizedAudioPath string  `json:"normalizedAudioPath,omitempty"`
	AudioDuration       float64 `json:"audioDuration,omitempty"`

	RawTranscript         string     `gorm:"type:text" json:"rawTranscript,omitempty"`
	RawTranscriptLockedAt *time.Time `json:"rawTranscriptLockedAt,omitempty"`
	EditedTranscript      string     `gorm:"type:text" json:"editedTranscript,omitempty"`

	PromptAnswers     map[string]PromptAnswer `gorm:"type:text;serializer:json" json:"promptAnswers,omitempty"`
	GeneratedSections map[string]string       `gorm:"type:text;serializer:json" json:"generatedSections,omitempty"`

	// Derived full-text column kept in lockstep with GeneratedSections by
	// Store.UpdateEntry; the FTS triggers read it.
	SectionsText string `gorm:"type:text" json:"-"`

	// Output
	NotePath  string     `json:"notePath,omitempty"`
	NoteMtime *time.Time `json:"noteMtime,omitempty"`
}

// TableName specifies the table name for Entry
func (Entry) TableName() string {
	return "entries"
}

// Transcript returns the transcript later stages should consume: the user's
// edited form when present, the raw transcript otherwise.
func (e *Entry) Transcript() string {
	if e.EditedTranscript != "" {
		return e.EditedTranscript
	}
	return e.RawTranscript
}

// Link relation types
const (
	LinkRelated   = "related"
	LinkFollowup  = "followup"
	LinkReference = "reference"
)

// ValidLinkTypes returns all valid link relation types
func ValidLinkTypes() []string {
	return []string{LinkRelated, LinkFollowup, LinkReference}
}

// IsValidLinkType checks if a link relation type is valid
func IsValidLinkType(t string) bool {
	for _, valid := range ValidLinkTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// EntryLink is a directed, typed edge between two entries
type EntryLink struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SourceID  string    `gorm:"index;not null" json:"sourceId"`
	TargetID  string    `gorm:"index;not null" json:"targetId"`
	Type      string    `gorm:"not null" json:"type"`
	CreatedAt time.Time `json:"createdAt"`

	Source Entry `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"-"`
	Target Entry `gorm:"foreignKey:TargetID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for EntryLink
func (EntryLink) TableName() string {
	return "entry_links"
}

// Setting is one row of the process-wide key/value settings table
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Setting
func (Setting) TableName() string {
	return "settings"
}
