// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when an entry does not exist
var ErrNotFound = errors.New("entry not found")

// Store is the durable state for entries, links and settings. All mutations
// from the worker and the HTTP handlers go through it.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over an open database connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for callers that need raw queries
func (s *Store) DB() *gorm.DB {
	return s.db
}

// NewID generates an opaque, collision-free entry id
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateEntry inserts a new entry in the pending stage
func (s *Store) CreateEntry(kind, entryDate, timezone string) (*Entry, error) {
	entry := &Entry{
		ID:        NewID(),
		Kind:      kind,
		EntryDate: entryDate,
		Timezone:  timezone,
		Stage:     StagePending,
	}

	if err := s.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}

	return entry, nil
}

// GetEntry fetches an entry by id
func (s *Store) GetEntry(id string) (*Entry, error) {
	var entry Entry
	err := s.db.Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch entry: %w", err)
	}
	return &entry, nil
}

// ListEntries returns the most recent entries with the total count
func (s *Store) ListEntries(limit, offset int) ([]Entry, int64, error) {
	var total int64
	if err := s.db.Model(&Entry{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count entries: %w", err)
	}

	var entries []Entry
	err := s.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list entries: %w", err)
	}

	return entries, total, nil
}

// NextQueued returns the oldest queued entry, or nil when the queue is empty
func (s *Store) NextQueued() (*Entry, error) {
	var entry Entry
	err := s.db.Where("stage = ?", StageQueued).Order("created_at ASC").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch queued entry: %w", err)
	}
	return &entry, nil
}

// ListByStage returns all entries currently in a stage, oldest first
func (s *Store) ListByStage(stage string) ([]Entry, error) {
	var entries []Entry
	err := s.db.Where("stage = ?", stage).Order("created_at ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list entries by stage: %w", err)
	}
	return entries, nil
}

// ResetStale resets entries stuck in a running stage with a heartbeat older
// than threshold back to queued. Returns the number of entries reset.
func (s *Store) ResetStale(threshold time.Duration, message string) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	result := s.db.Model(&Entry{}).
		Where("stage IN ?", RunningStages()).
		Where("heartbeat_at IS NOT NULL AND heartbeat_at < ?", cutoff).
		Updates(map[string]interface{}{
			"stage":         StageQueued,
			"stage_message": message,
			"locked_by":     "",
			"locked_at":     nil,
			"heartbeat_at":  nil,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset stale entries: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// UpdateEntry applies a partial update by id. Every update stamps updated_at;
// a change to generated_sections also refreshes the derived sections_text
// column so the FTS triggers index the new bodies.
func (s *Store) UpdateEntry(id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	if raw, ok := updates["generated_sections"]; ok {
		if sections, ok := raw.(map[string]string); ok {
			updates["sections_text"] = FlattenSections(sections)
		}
	}
	for _, key := range []string{"generated_sections", "prompt_answers"} {
		if raw, ok := updates[key]; ok && raw != nil {
			if _, isString := raw.(string); !isString {
				data, err := json.Marshal(raw)
				if err != nil {
					return fmt.Errorf("failed to encode %s: %w", key, err)
				}
				updates[key] = string(data)
			}
		}
	}
	updates["updated_at"] = time.Now().UTC()

	result := s.db.Model(&Entry{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteEntry removes an entry row and its links. Vault files are untouched.
func (s *Store) DeleteEntry(id string) error {
	if err := s.db.Where("source_id = ? OR target_id = ?", id, id).Delete(&EntryLink{}).Error; err != nil {
		return fmt.Errorf("failed to delete entry links: %w", err)
	}

	result := s.db.Where("id = ?", id).Delete(&Entry{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// FlattenSections renders a generated-sections map into a single searchable
// string, keys sorted for determinism.
func FlattenSections(sections map[string]string) string {
	if len(sections) == 0 {
		return ""
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString("\n")
		b.WriteString(sections[name])
		b.WriteString("\n")
	}

	return b.String()
}

// AcquireLease performs a CAS-style lease acquisition: the update succeeds
// only if the entry is still in expectStage and is unlocked or already held
// by this worker. Returns true when the lease was acquired.
func (s *Store) AcquireLease(id, workerID, expectStage string) (bool, error) {
	now := time.Now().UTC()

	result := s.db.Model(&Entry{}).
		Where("id = ? AND stage = ?", id, expectStage).
		Where("locked_by = '' OR locked_by IS NULL OR locked_by = ?", workerID).
		Updates(map[string]interface{}{
			"locked_by":    workerID,
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// ReleaseLease clears the lease if held by this worker
func (s *Store) ReleaseLease(id, workerID string) error {
	result := s.db.Model(&Entry{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Updates(map[string]interface{}{
			"locked_by":    "",
			"locked_at":    nil,
			"heartbeat_at": nil,
			"updated_at":   time.Now().UTC(),
		})
	return result.Error
}

// Heartbeat refreshes the lease heartbeat. Returns false when the lease is no
// longer held by this worker.
func (s *Store) Heartbeat(id, workerID string) (bool, error) {
	now := time.Now().UTC()
	result := s.db.Model(&Entry{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to refresh heartbeat: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AddLink creates a directed, typed link between two entries
func (s *Store) AddLink(sourceID, targetID, linkType string) (*EntryLink, error) {
	if _, err := s.GetEntry(sourceID); err != nil {
		return nil, err
	}
	if _, err := s.GetEntry(targetID); err != nil {
		return nil, err
	}

	link := &EntryLink{
		SourceID: sourceID,
		TargetID: targetID,
		Type:     linkType,
	}
	if err := s.db.Create(link).Error; err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	return link, nil
}

// RemoveLink deletes a link by its endpoints and type
func (s *Store) RemoveLink(sourceID, targetID, linkType string) error {
	result := s.db.Where("source_id = ? AND target_id = ? AND type = ?", sourceID, targetID, linkType).
		Delete(&EntryLink{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove link: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLinks returns all links touching an entry, in either direction
func (s *Store) ListLinks(id string) ([]EntryLink, error) {
	var links []EntryLink
	err := s.db.Where("source_id = ? OR target_id = ?", id, id).
		Order("created_at ASC").Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return links, nil
}

// GetSettings returns the full settings table as a key/value map
func (s *Store) GetSettings() (map[string]string, error) {
	var rows []Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// SetSetting upserts one settings row
func (s *Store) SetSetting(key, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// SeedSettings inserts defaults for any keys not yet present
func (s *Store) SeedSettings(defaults map[string]string) error {
	existing, err := s.GetSettings()
	if err != nil {
		return err
	}

	for key, value := range defaults {
		if _, ok := existing[key]; ok {
			continue
		}
		if err := s.SetSetting(key, value); err != nil {
			return err
		}
	}

	return nil
}
