// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/tejzpr/whisperjournal/internal/prereq"
	"github.com/tejzpr/whisperjournal/internal/settings"
)

// handleGetSettings returns the typed settings with camelCase field names
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, settingsJSON(st))
}

// settingsJSON renders settings under the fixed camelCase mapping
func settingsJSON(st *settings.Settings) map[string]interface{} {
	return map[string]interface{}{
		"vaultPath":            st.VaultPath,
		"whisperModel":         st.WhisperModel,
		"whisperModelPath":     st.WhisperModelPath,
		"transcriptionPrompt":  st.TranscriptionPrompt,
		"llmBaseUrl":           st.LLMBaseURL,
		"llmModel":             st.LLMModel,
		"keepAudio":            st.KeepAudio,
		"defaultTimezone":      st.DefaultTimezone,
		"userName":             st.UserName,
		"vadEnabled":           st.VADEnabled,
		"vadModelPath":         st.VADModelPath,
		"chunkDurationSeconds": st.ChunkDurationSeconds,
	}
}

// handlePatchSettings updates settings keys. Unknown camelCase names and
// type-invalid values are precondition errors; nothing is written then.
func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validate everything before writing anything.
	values := make(map[string]string, len(req))
	for camel, raw := range req {
		key, ok := settings.CamelKeys[camel]
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown setting: %q", camel))
			return
		}
		value, err := settingValueString(key, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := settings.Validate(key, value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		values[key] = value
	}

	for key, value := range values {
		if err := s.store.SetSetting(key, value); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	st, err := s.loadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settingsJSON(st))
}

// settingValueString converts a JSON value to the stored string form per the
// key's declared type.
func settingValueString(key string, raw interface{}) (string, error) {
	switch settings.KeyTypes[key] {
	case settings.TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return "", fmt.Errorf("setting %s requires a boolean", settings.KeyToCamel[key])
		}
		return strconv.FormatBool(b), nil
	case settings.TypeInt:
		f, ok := raw.(float64)
		if !ok || f != float64(int(f)) {
			return "", fmt.Errorf("setting %s requires an integer", settings.KeyToCamel[key])
		}
		return strconv.Itoa(int(f)), nil
	default:
		str, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("setting %s requires a string", settings.KeyToCamel[key])
		}
		return str, nil
	}
}

// handleOpenNote fires the platform open command for an entry's note
func (s *Server) handleOpenNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntryID string `json:"entryId"`
		Action  string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entry, err := s.store.GetEntry(req.EntryID)
	if err != nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if entry.NotePath == "" {
		writeError(w, http.StatusBadRequest, "entry has no written note")
		return
	}

	st, err := s.loadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	absPath := filepath.Join(st.VaultPath, filepath.FromSlash(entry.NotePath))

	var cmd *exec.Cmd
	switch req.Action {
	case "obsidian":
		cmd = exec.Command(openCommand(), "obsidian://open?path="+absPath)
	case "finder":
		cmd = exec.Command(openCommand(), filepath.Dir(absPath))
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid action: %q", req.Action))
		return
	}

	if err := cmd.Start(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	go func() { _ = cmd.Wait() }()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// openCommand returns the platform's URL/file opener
func openCommand() string {
	if runtime.GOOS == "darwin" {
		return "open"
	}
	return "xdg-open"
}

// handlePrerequisites probes the external tools the pipeline depends on
func (s *Server) handlePrerequisites(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, prereq.Check(r.Context(), st.LLMBaseURL))
}

// handleValidatePath checks that a path exists, is a directory and is writable
func (s *Server) handleValidatePath(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	result := map[string]interface{}{
		"exists":   false,
		"isDir":    false,
		"writable": false,
		"valid":    false,
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	result["exists"] = true

	if !info.IsDir() {
		writeJSON(w, http.StatusOK, result)
		return
	}
	result["isDir"] = true

	probe, err := os.CreateTemp(req.Path, ".wj-probe-*")
	if err == nil {
		probe.Close()
		os.Remove(probe.Name())
		result["writable"] = true
		result["valid"] = true
	}

	writeJSON(w, http.StatusOK, result)
}

// handleWhisperModels lists installed speech models
func (s *Server) handleWhisperModels(w http.ResponseWriter, r *http.Request) {
	models, err := prereq.ListModels(settings.ModelsDir())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}
