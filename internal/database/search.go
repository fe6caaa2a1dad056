// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Stage classes for search filtering
const (
	StageClassActive = "active"
	StageClassDone   = "done"
	StageClassFailed = "failed"
)

// SearchParams describes a full-text search over transcripts and generated
// sections, with optional filters.
type SearchParams struct {
	Query      string // bare term; whitespace-split, prefix-matched, AND-joined
	Kind       string
	StageClass string // active | done | failed
	From       string // entry_date lower bound, YYYY-MM-DD inclusive
	To         string // entry_date upper bound, YYYY-MM-DD inclusive
	Limit      int
	Offset     int
}

// SearchResult holds one page of search hits
type SearchResult struct {
	Entries []Entry
	Total   int64
	HasMore bool
}

// Search runs a filtered full-text query against the FTS5 index. A blank
// query degenerates to a pure filter scan over entries.
func (s *Store) Search(params SearchParams) (*SearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = 20
	}

	match := buildMatchQuery(params.Query)

	var total int64
	if err := s.searchQuery(params, match).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count search results: %w", err)
	}

	var entries []Entry
	err := s.searchQuery(params, match).
		Order("entries.created_at DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}

	return &SearchResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(params.Offset+len(entries)) < total,
	}, nil
}

// searchQuery builds the shared query for Count and Find. gorm builders are
// single-use, so each call constructs a fresh one.
func (s *Store) searchQuery(params SearchParams, match string) *gorm.DB {
	q := s.db.Model(&Entry{})

	if match != "" {
		q = q.Joins("JOIN entry_fts ON entry_fts.entry_id = entries.id").
			Where("entry_fts MATCH ?", match)
	}

	if params.Kind != "" {
		q = q.Where("entries.kind = ?", params.Kind)
	}

	switch params.StageClass {
	case StageClassActive:
		q = q.Where("entries.stage NOT IN ?", TerminalStages())
	case StageClassDone:
		q = q.Where("entries.stage = ?", StageCompleted)
	case StageClassFailed:
		q = q.Where("entries.stage IN ?", []string{StageFailed, StageCancelled})
	}

	if params.From != "" {
		q = q.Where("entries.entry_date >= ?", params.From)
	}
	if params.To != "" {
		q = q.Where("entries.entry_date <= ?", params.To)
	}

	return q
}

// buildMatchQuery turns a bare search term into an FTS5 MATCH expression:
// whitespace-split tokens, each quoted and prefix-matched, implicitly ANDed.
func buildMatchQuery(term string) string {
	fields := strings.Fields(term)
	if len(fields) == 0 {
		return ""
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(`"%s"*`, f))
	}

	return strings.Join(parts, " ")
}
