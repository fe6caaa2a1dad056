// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"

	"gorm.io/gorm"
)

// AllModels returns all database models for migration
func AllModels() []interface{} {
	return []interface{}{
		&Entry{},
		&EntryLink{},
		&Setting{},
	}
}

// Migrate runs database migrations: gorm AutoMigrate for the tables, then the
// raw-SQL pieces gorm cannot express — the FTS5 index, the triggers that keep
// it in lockstep with the transcript columns, and composite indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createSearchIndex(db); err != nil {
		return err
	}

	return createIndexes(db)
}

// createSearchIndex creates the FTS5 virtual table and its sync triggers.
// The triggers mirror raw_transcript, edited_transcript and the flattened
// sections_text column into entry_fts on every write.
func createSearchIndex(db *gorm.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS entry_fts USING fts5(
			entry_id UNINDEXED,
			raw_transcript,
			edited_transcript,
			sections,
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS entries_fts_insert AFTER INSERT ON entries BEGIN
			INSERT INTO entry_fts(entry_id, raw_transcript, edited_transcript, sections)
			VALUES (new.id, new.raw_transcript, new.edited_transcript, new.sections_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS entries_fts_update AFTER UPDATE ON entries BEGIN
			DELETE FROM entry_fts WHERE entry_id = old.id;
			INSERT INTO entry_fts(entry_id, raw_transcript, edited_transcript, sections)
			VALUES (new.id, new.raw_transcript, new.edited_transcript, new.sections_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS entries_fts_delete AFTER DELETE ON entries BEGIN
			DELETE FROM entry_fts WHERE entry_id = old.id;
		END`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create search index: %w", err)
		}
	}

	return nil
}

// createIndexes creates additional indexes for better query performance
func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		table   string
		columns string
		name    string
	}{
		{
			table:   "entries",
			columns: "stage, created_at",
			name:    "idx_entries_stage_created",
		},
		{
			table:   "entries",
			columns: "stage, heartbeat_at",
			name:    "idx_entries_stage_heartbeat",
		},
		{
			table:   "entries",
			columns: "kind, entry_date",
			name:    "idx_entries_kind_date",
		},
		{
			table:   "entry_links",
			columns: "source_id, type",
			name:    "idx_links_source_type",
		},
		{
			table:   "entry_links",
			columns: "target_id, type",
			name:    "idx_links_target_type",
		},
	}

	for _, idx := range indexes {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.name, idx.table, idx.columns)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}
