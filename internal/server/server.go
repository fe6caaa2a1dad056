// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package server is the thin HTTP facade over the store, the note writer and
// the job runner: request parsing, JSON marshaling, status mapping.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/tejzpr/whisperjournal/internal/database"
	"github.com/tejzpr/whisperjournal/internal/note"
	"github.com/tejzpr/whisperjournal/internal/runner"
	"github.com/tejzpr/whisperjournal/internal/settings"
)

// Server holds the facade's collaborators
type Server struct {
	store  *database.Store
	worker *runner.Worker
}

// NewServer creates the HTTP facade
func NewServer(store *database.Store, worker *runner.Worker) *Server {
	return &Server{store: store, worker: worker}
}

// Routes registers all HTTP routes on a mux
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /entries", s.handleCreateEntry)
	mux.HandleFunc("GET /entries", s.handleListEntries)
	mux.HandleFunc("GET /entries/search", s.handleSearch)
	mux.HandleFunc("GET /entries/{id}", s.handleGetEntry)
	mux.HandleFunc("PATCH /entries/{id}", s.handlePatchEntry)
	mux.HandleFunc("DELETE /entries/{id}", s.handleDeleteEntry)
	mux.HandleFunc("POST /entries/{id}/audio", s.handleUploadAudio)
	mux.HandleFunc("POST /entries/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /entries/{id}/links", s.handleListLinks)
	mux.HandleFunc("POST /entries/{id}/links", s.handleAddLink)
	mux.HandleFunc("DELETE /entries/{id}/links", s.handleRemoveLink)
	mux.HandleFunc("GET /audio/{path...}", s.handleServeAudio)
	mux.HandleFunc("POST /open-note", s.handleOpenNote)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PATCH /settings", s.handlePatchSettings)
	mux.HandleFunc("GET /prerequisites", s.handlePrerequisites)
	mux.HandleFunc("POST /validate-path", s.handleValidatePath)
	mux.HandleFunc("GET /whisper", s.handleWhisperModels)

	return mux
}

// loadSettings is a convenience wrapper for handlers
func (s *Server) loadSettings() (*settings.Settings, error) {
	return settings.Load(s.store)
}

// noteWriter builds a writer for the currently configured vault
func (s *Server) noteWriter(st *settings.Settings) *note.Writer {
	return note.NewWriter(st.VaultPath)
}

// writeJSON writes a JSON response with a status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// entryResponse is an entry plus the computed read-side fields
type entryResponse struct {
	*database.Entry
	OverallProgress  int    `json:"overallProgress"`
	HasExternalEdits bool   `json:"hasExternalEdits"`
	NoteContent      string `json:"noteContent,omitempty"`
}
