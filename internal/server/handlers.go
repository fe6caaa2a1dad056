// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tejzpr/whisperjournal/internal/database"
	"github.com/tejzpr/whisperjournal/internal/note"
	"github.com/tejzpr/whisperjournal/internal/runner"
)

// maxUploadBytes caps audio uploads at 256 MiB
const maxUploadBytes = 256 << 20

// handleCreateEntry creates a new entry in the pending stage
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntryType string `json:"entryType"`
		EntryDate string `json:"entryDate"`
		Timezone  string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !database.IsValidKind(req.EntryType) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entryType: %q", req.EntryType))
		return
	}

	st, err := s.loadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = st.DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timezone: %q", timezone))
		return
	}

	entryDate := req.EntryDate
	if entryDate == "" {
		entryDate = time.Now().In(loc).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", entryDate); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entryDate: %q", entryDate))
		return
	}

	entry, err := s.store.CreateEntry(req.EntryType, entryDate, timezone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// handleListEntries lists the most recent entries
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, total, err := s.store.ListEntries(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   total,
	})
}

// handleSearch runs a filtered full-text search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := database.SearchParams{
		Query:      r.URL.Query().Get("q"),
		Kind:       r.URL.Query().Get("type"),
		StageClass: r.URL.Query().Get("status"),
		From:       r.URL.Query().Get("from"),
		To:         r.URL.Query().Get("to"),
		Limit:      queryInt(r, "limit", 20),
		Offset:     queryInt(r, "offset", 0),
	}

	if params.Kind != "" && !database.IsValidKind(params.Kind) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid type: %q", params.Kind))
		return
	}
	switch params.StageClass {
	case "", database.StageClassActive, database.StageClassDone, database.StageClassFailed:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %q", params.StageClass))
		return
	}

	result, err := s.store.Search(params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": result.Entries,
		"total":   result.Total,
		"hasMore": result.HasMore,
	})
}

// handleGetEntry reads one entry with its computed fields
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.fetchEntry(w, r)
	if !ok {
		return
	}

	resp := entryResponse{
		Entry:           entry,
		OverallProgress: runner.Progress(entry.Stage),
	}

	if st, err := s.loadSettings(); err == nil {
		writer := s.noteWriter(st)
		if edited, err := writer.HasExternalEdits(entry); err == nil {
			resp.HasExternalEdits = edited
		}
		if content, found, err := writer.ReadNote(entry); err == nil && found {
			resp.NoteContent = content
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handlePatchEntry applies edits and, on action=continue, nudges the runner
func (s *Server) handlePatchEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.fetchEntry(w, r)
	if !ok {
		return
	}

	var req struct {
		EditedTranscript *string                          `json:"editedTranscript"`
		PromptAnswers    map[string]database.PromptAnswer `json:"promptAnswers"`
		EntryDate        *string                          `json:"entryDate"`
		EditedSections   map[string]string                `json:"editedSections"`
		Action           string                           `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updates := make(map[string]interface{})

	if req.EditedTranscript != nil {
		updates["edited_transcript"] = *req.EditedTranscript
	}

	if len(req.PromptAnswers) > 0 {
		merged := entry.PromptAnswers
		if merged == nil {
			merged = make(map[string]database.PromptAnswer)
		}
		for key, answer := range req.PromptAnswers {
			if !database.IsValidPromptKey(key) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown prompt key: %q", key))
				return
			}
			merged[key] = answer
		}
		updates["prompt_answers"] = merged
	}

	if req.EntryDate != nil {
		if _, err := time.Parse("2006-01-02", *req.EntryDate); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entryDate: %q", *req.EntryDate))
			return
		}
		// The date is adjustable only until note writing begins.
		switch entry.Stage {
		case database.StageWriting, database.StageCompleted:
			writeError(w, http.StatusBadRequest, "entryDate can no longer be changed")
			return
		}
		updates["entry_date"] = *req.EntryDate
	}

	if len(updates) > 0 {
		if err := s.store.UpdateEntry(entry.ID, updates); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if len(req.EditedSections) > 0 {
		if err := s.applySectionEdits(entry, req.EditedSections); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if req.Action == "continue" {
		if err := s.handleContinue(entry.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	updated, err := s.store.GetEntry(entry.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// applySectionEdits rewrites note sections in place, strict-parsing first so
// marker corruption surfaces on this specific mutation.
func (s *Server) applySectionEdits(entry *database.Entry, bodies map[string]string) error {
	if entry.NotePath == "" {
		return errors.New("entry has no written note to edit")
	}

	st, err := s.loadSettings()
	if err != nil {
		return err
	}

	mtime, err := s.noteWriter(st).UpdateContent(entry, bodies)
	if err != nil {
		return err
	}

	return s.store.UpdateEntry(entry.ID, map[string]interface{}{
		"note_mtime": mtime,
	})
}

// handleContinue advances an awaiting entry and nudges the worker. A continue
// on an entry not in an awaiting stage is a no-op.
func (s *Server) handleContinue(id string) error {
	entry, err := s.store.GetEntry(id)
	if err != nil {
		return err
	}

	next, ok := runner.NextStageOnContinue(entry)
	if !ok {
		return nil
	}

	updates := map[string]interface{}{"stage": next}
	switch next {
	case database.StageAwaitingPrompts:
		updates["stage_message"] = "Waiting for prompt answers"
	case database.StageGenerating:
		updates["stage_message"] = "Generating journal"
	case database.StageWriting:
		updates["stage_message"] = "Writing note"
	}

	if err := s.store.UpdateEntry(id, updates); err != nil {
		return err
	}

	if next == database.StageGenerating || next == database.StageWriting {
		s.worker.Nudge(id)
	}

	return nil
}

// handleDeleteEntry removes the entry row; the vault file stays
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteEntry(id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleUploadAudio stores the source audio and queues the entry
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.fetchEntry(w, r)
	if !ok {
		return
	}

	if entry.Stage != database.StagePending {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot upload audio in stage %s", entry.Stage))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported content type: %q", contentType))
		return
	}

	st, err := s.loadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".wav"
	}
	relPath := note.AudioDir + "/" + entry.ID + "-original" + ext
	absPath := filepath.Join(st.VaultPath, filepath.FromSlash(relPath))

	if err := saveUpload(file, absPath); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	err = s.store.UpdateEntry(entry.ID, map[string]interface{}{
		"original_audio_path": relPath,
		"stage":               database.StageQueued,
		"stage_message":       "Queued",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := s.store.GetEntry(entry.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// saveUpload streams an uploaded file to disk
func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create audio directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("failed to store audio file: %w", err)
	}
	return nil
}

// handleCancel stamps a cancel request and best-effort kills the live child
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.fetchEntry(w, r)
	if !ok {
		return
	}

	if !database.IsCancellableStage(entry.Stage) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot cancel in stage %s", entry.Stage))
		return
	}

	err := s.store.UpdateEntry(entry.ID, map[string]interface{}{
		"stage":         database.StageCancelRequested,
		"stage_message": "Cancel requested",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.worker.Procs().Kill(entry.ID)

	updated, err := s.store.GetEntry(entry.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleListLinks lists links touching an entry
func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.fetchEntry(w, r)
	if !ok {
		return
	}

	links, err := s.store.ListLinks(entry.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"links": links})
}

// handleAddLink creates a typed link from this entry to another
func (s *Server) handleAddLink(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.fetchEntry(w, r)
	if !ok {
		return
	}

	var req struct {
		TargetID string `json:"targetId"`
		Type     string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "targetId is required")
		return
	}
	if !database.IsValidLinkType(req.Type) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid link type: %q", req.Type))
		return
	}

	link, err := s.store.AddLink(entry.ID, req.TargetID, req.Type)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, link)
}

// handleRemoveLink deletes a link by endpoints and type
func (s *Server) handleRemoveLink(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.fetchEntry(w, r)
	if !ok {
		return
	}

	var req struct {
		TargetID string `json:"targetId"`
		Type     string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.RemoveLink(entry.ID, req.TargetID, req.Type); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "link not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleServeAudio serves audio files read-only, restricted to the vault's
// journal/audio directory. Traversal in any form is rejected.
func (s *Server) handleServeAudio(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")

	if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
		writeError(w, http.StatusForbidden, "forbidden path")
		return
	}
	if !strings.HasPrefix(rel, "journal/audio/") {
		writeError(w, http.StatusForbidden, "forbidden path")
		return
	}

	st, err := s.loadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	vault, err := filepath.EvalSymlinks(st.VaultPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "vault path unavailable")
		return
	}

	abs := filepath.Join(vault, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		writeError(w, http.StatusNotFound, "audio file not found")
		return
	}
	if resolved != vault && !strings.HasPrefix(resolved, vault+string(filepath.Separator)) {
		writeError(w, http.StatusForbidden, "forbidden path")
		return
	}

	http.ServeFile(w, r, resolved)
}

// fetchEntry resolves the {id} path value, writing a 404 on unknown ids
func (s *Server) fetchEntry(w http.ResponseWriter, r *http.Request) (*database.Entry, bool) {
	id := r.PathValue("id")
	entry, err := s.store.GetEntry(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return entry, true
}

// queryInt parses an integer query parameter with a default
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
