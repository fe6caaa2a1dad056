// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/whisperjournal/internal/audio"
	"github.com/tejzpr/whisperjournal/internal/database"
	"github.com/tejzpr/whisperjournal/internal/llm"
	"github.com/tejzpr/whisperjournal/internal/note"
	"github.com/tejzpr/whisperjournal/internal/runner"
	"github.com/tejzpr/whisperjournal/internal/settings"
	"github.com/tejzpr/whisperjournal/internal/transcribe"
	"gorm.io/gorm/logger"
)

// stubAudio fakes the external audio tools for handler tests
type stubAudio struct{}

func (stubAudio) Probe(ctx context.Context, path string) (float64, error) { return 3.0, nil }

func (stubAudio) Normalize(ctx context.Context, src, dst string, onStart audio.OnStart) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("RIFF"), 0644)
}

func (stubAudio) Remove(path string) error {
	_ = os.Remove(path)
	return nil
}

// stubTranscriber returns a fixed transcript
type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, wav string, duration float64, tempDir string, onStart audio.OnStart, onChunk transcribe.OnChunk) (string, error) {
	return "transcribed speech", nil
}

// stubGenerator returns fixed LLM output
type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, transcript string, answers map[string]database.PromptAnswer, kind string) (llm.Result, error) {
	return llm.Result{Content: "## TL;DR\n\nOK.", Reflection: "Reflected."}, nil
}

// testEnv is a running facade over a throwaway store, vault and worker
type testEnv struct {
	t      *testing.T
	store  *database.Store
	server *Server
	http   *httptest.Server
	vault  string
	cancel context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Connect(&database.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	store := database.NewStore(db)
	require.NoError(t, settings.Seed(store))

	vault := t.TempDir()
	require.NoError(t, store.SetSetting(settings.KeyVaultPath, vault))

	worker := runner.New(runner.Deps{
		Store: store,
		Audio: stubAudio{},
		NewTranscriber: func(st *settings.Settings) runner.Transcriber {
			return stubTranscriber{}
		},
		NewGenerator: func(st *settings.Settings) runner.Generator {
			return stubGenerator{}
		},
		NewNoteWriter: func(st *settings.Settings) runner.NoteWriter {
			return note.NewWriter(st.VaultPath)
		},
	}).WithTick(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	srv := NewServer(store, worker)
	httpSrv := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		cancel()
		httpSrv.Close()
	})

	return &testEnv{
		t:      t,
		store:  store,
		server: srv,
		http:   httpSrv,
		vault:  vault,
		cancel: cancel,
	}
}

// doJSON issues a JSON request and decodes the JSON response
func (e *testEnv) doJSON(method, path string, body interface{}, out interface{}) int {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

// createEntry makes an entry over HTTP and returns its id
func (e *testEnv) createEntry(kind string) string {
	e.t.Helper()

	var created database.Entry
	status := e.doJSON("POST", "/entries", map[string]string{
		"entryType": kind,
		"timezone":  "UTC",
	}, &created)
	require.Equal(e.t, http.StatusOK, status)
	require.NotEmpty(e.t, created.ID)
	return created.ID
}

// uploadAudio posts a small fake WAV with an audio/wav part
func (e *testEnv) uploadAudio(id, contentType string) int {
	e.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="clip.wav"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(e.t, err)
	_, err = part.Write([]byte("RIFF fake wav data"))
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	req, err := http.NewRequest("POST", e.http.URL+"/entries/"+id+"/audio", &buf)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// waitForStage polls until the entry reaches a stage
func (e *testEnv) waitForStage(id, stage string) *database.Entry {
	e.t.Helper()

	var got *database.Entry
	require.Eventually(e.t, func() bool {
		entry, err := e.store.GetEntry(id)
		if err != nil {
			return false
		}
		got = entry
		return entry.Stage == stage
	}, 5*time.Second, 10*time.Millisecond, "entry %s never reached %s (last: %v)", id, stage, got)

	return got
}

func TestCreateEntryValidation(t *testing.T) {
	e := newTestEnv(t)

	var created database.Entry
	status := e.doJSON("POST", "/entries", map[string]string{"entryType": "brain-dump", "timezone": "UTC"}, &created)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, database.StagePending, created.Stage)
	assert.NotEmpty(t, created.EntryDate)

	var errResp map[string]string
	status = e.doJSON("POST", "/entries", map[string]string{"entryType": "sonnet"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	status = e.doJSON("POST", "/entries", map[string]string{"entryType": "quick-note", "timezone": "Mars/Olympus"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	status = e.doJSON("POST", "/entries", map[string]string{"entryType": "quick-note", "entryDate": "06-08-2026"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUploadQueuesAndPipelineParks(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindBrainDump)

	assert.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))

	e.waitForStage(id, database.StageAwaitingReview)

	var resp struct {
		database.Entry
		OverallProgress  int    `json:"overallProgress"`
		HasExternalEdits bool   `json:"hasExternalEdits"`
		RawTranscript    string `json:"rawTranscript"`
	}
	status := e.doJSON("GET", "/entries/"+id, nil, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 60, resp.OverallProgress)
	assert.NotEmpty(t, resp.RawTranscript)
	assert.False(t, resp.HasExternalEdits)
}

func TestUploadRejectsBadMIME(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	assert.Equal(t, http.StatusBadRequest, e.uploadAudio(id, "video/mp4"))

	// Entry unchanged.
	entry, err := e.store.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, database.StagePending, entry.Stage)
}

func TestUploadWrongStage(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/webm"))
	e.waitForStage(id, database.StageAwaitingReview)

	assert.Equal(t, http.StatusBadRequest, e.uploadAudio(id, "audio/webm"))
}

func TestQuickNoteEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))
	e.waitForStage(id, database.StageAwaitingReview)

	var patched database.Entry
	status := e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{
		"editedTranscript": "hello world",
		"action":           "continue",
	}, &patched)
	require.Equal(t, http.StatusOK, status)

	got := e.waitForStage(id, database.StageCompleted)
	require.NotEmpty(t, got.NotePath)

	data, err := os.ReadFile(filepath.Join(e.vault, got.NotePath))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "type: quick-note")

	sections, err := note.ParseStrict(content)
	require.NoError(t, err)
	transcript, ok := note.FindSection(sections, note.SectionTranscript)
	require.True(t, ok)
	assert.Contains(t, transcript.Body, "hello world")
}

func TestDailyReflectionEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindDailyReflection)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))
	e.waitForStage(id, database.StageAwaitingReview)

	status := e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{"action": "continue"}, nil)
	require.Equal(t, http.StatusOK, status)
	e.waitForStage(id, database.StageAwaitingPrompts)

	status = e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{
		"promptAnswers": map[string]interface{}{
			"gratitude": map[string]string{"text": "I'm grateful for coffee"},
		},
		"action": "continue",
	}, nil)
	require.Equal(t, http.StatusOK, status)

	got := e.waitForStage(id, database.StageCompleted)

	data, err := os.ReadFile(filepath.Join(e.vault, got.NotePath))
	require.NoError(t, err)
	sections, err := note.ParseStrict(string(data))
	require.NoError(t, err)

	gratitude, ok := note.FindSection(sections, note.SectionGratitude)
	require.True(t, ok)
	assert.Contains(t, gratitude.Body, "I'm grateful for coffee")

	reflection, ok := note.FindSection(sections, note.SectionAIReflection)
	require.True(t, ok)
	assert.NotEqual(t, "## Reflection", reflection.Body, "reflection body must not be empty")
}

func TestContinueOutsideAwaitingIsNoop(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	var patched database.Entry
	status := e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{"action": "continue"}, &patched)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, database.StagePending, patched.Stage)
}

func TestPatchValidation(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	status := e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{"entryDate": "bad-date"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{
		"promptAnswers": map[string]interface{}{"mystery": map[string]string{"text": "x"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{"entryDate": "2026-01-01"}, nil)
	assert.Equal(t, http.StatusOK, status)

	entry, err := e.store.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", entry.EntryDate)
}

func TestGetUnknownEntry(t *testing.T) {
	e := newTestEnv(t)

	status := e.doJSON("GET", "/entries/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = e.doJSON("DELETE", "/entries/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteEntryKeepsVaultFile(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))
	e.waitForStage(id, database.StageAwaitingReview)
	e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{"action": "continue"}, nil)
	got := e.waitForStage(id, database.StageCompleted)

	status := e.doJSON("DELETE", "/entries/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	_, err := os.Stat(filepath.Join(e.vault, got.NotePath))
	assert.NoError(t, err, "vault file must survive row deletion")
}

func TestCancelQueuedEntry(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	// Cancel before upload is a precondition error: pending is not cancellable.
	status := e.doJSON("POST", "/entries/"+id+"/cancel", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))

	// The race between the worker and this cancel is inherent; whichever
	// stage the request lands in, the entry must end terminal.
	e.doJSON("POST", "/entries/"+id+"/cancel", map[string]string{}, nil)
	require.Eventually(t, func() bool {
		entry, err := e.store.GetEntry(id)
		return err == nil && database.IsTerminalStage(entry.Stage)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCancelAwaitingReviewEntryRejected(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))
	e.waitForStage(id, database.StageAwaitingReview)

	// awaiting_review is outside the cancellable set.
	status := e.doJSON("POST", "/entries/"+id+"/cancel", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLinksLifecycle(t *testing.T) {
	e := newTestEnv(t)
	a := e.createEntry(database.KindQuickNote)
	b := e.createEntry(database.KindQuickNote)

	status := e.doJSON("POST", "/entries/"+a+"/links", map[string]string{
		"targetId": b, "type": "followup",
	}, nil)
	assert.Equal(t, http.StatusOK, status)

	status = e.doJSON("POST", "/entries/"+a+"/links", map[string]string{
		"targetId": b, "type": "bogus",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var list struct {
		Links []database.EntryLink `json:"links"`
	}
	status = e.doJSON("GET", "/entries/"+b+"/links", nil, &list)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, list.Links, 1)
	assert.Equal(t, a, list.Links[0].SourceID)

	status = e.doJSON("DELETE", "/entries/"+a+"/links", map[string]string{
		"targetId": b, "type": "followup",
	}, nil)
	assert.Equal(t, http.StatusOK, status)

	status = e.doJSON("GET", "/entries/"+b+"/links", nil, &list)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, list.Links)
}

func TestSearchEndpoint(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	require.NoError(t, e.store.UpdateEntry(id, map[string]interface{}{
		"raw_transcript": "a singular memorable phrase",
		"stage":          database.StageCompleted,
	}))

	var resp struct {
		Entries []database.Entry `json:"entries"`
		Total   int64            `json:"total"`
		HasMore bool             `json:"hasMore"`
	}
	status := e.doJSON("GET", "/entries/search?q=memorable", nil, &resp)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, id, resp.Entries[0].ID)

	status = e.doJSON("GET", "/entries/search?status=broken", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExternalEditDetection(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))
	e.waitForStage(id, database.StageAwaitingReview)
	e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{"action": "continue"}, nil)
	got := e.waitForStage(id, database.StageCompleted)

	// Touch the note one second into the future.
	notePath := filepath.Join(e.vault, got.NotePath)
	future := got.NoteMtime.Add(time.Second)
	require.NoError(t, os.Chtimes(notePath, future, future))

	var resp struct {
		HasExternalEdits bool `json:"hasExternalEdits"`
	}
	status := e.doJSON("GET", "/entries/"+id, nil, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.HasExternalEdits)
}

func TestEditedSectionsRewriteNote(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	require.Equal(t, http.StatusOK, e.uploadAudio(id, "audio/wav"))
	e.waitForStage(id, database.StageAwaitingReview)
	e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{"action": "continue"}, nil)
	got := e.waitForStage(id, database.StageCompleted)

	status := e.doJSON("PATCH", "/entries/"+id, map[string]interface{}{
		"editedSections": map[string]string{
			note.SectionTranscript: "amended words",
		},
	}, nil)
	require.Equal(t, http.StatusOK, status)

	data, err := os.ReadFile(filepath.Join(e.vault, got.NotePath))
	require.NoError(t, err)
	sections, err := note.ParseStrict(string(data))
	require.NoError(t, err)
	transcript, ok := note.FindSection(sections, note.SectionTranscript)
	require.True(t, ok)
	// Quick notes keep the plain heading style on rewrite.
	assert.True(t, strings.HasPrefix(transcript.Body, "## Transcript"))
	assert.Contains(t, transcript.Body, "amended words")

	// note_mtime tracks the rewrite: no external-edit warning.
	var resp struct {
		HasExternalEdits bool `json:"hasExternalEdits"`
	}
	e.doJSON("GET", "/entries/"+id, nil, &resp)
	assert.False(t, resp.HasExternalEdits)
}

func TestServeAudioTraversal(t *testing.T) {
	e := newTestEnv(t)

	// A real file inside journal/audio serves fine.
	audioDir := filepath.Join(e.vault, "journal", "audio")
	require.NoError(t, os.MkdirAll(audioDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(audioDir, "x.wav"), []byte("RIFF"), 0644))

	cases := []struct {
		path   string
		status int
	}{
		{"journal/audio/x.wav", http.StatusOK},
		{"journal/audio/../../etc/passwd", http.StatusForbidden},
		{"/etc/passwd", http.StatusForbidden},
		{"journal/notes/x.md", http.StatusForbidden},
		{"journal/audio/missing.wav", http.StatusNotFound},
	}

	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/audio/placeholder", nil)
		req.SetPathValue("path", tc.path)
		rec := httptest.NewRecorder()
		e.server.handleServeAudio(rec, req)
		assert.Equal(t, tc.status, rec.Code, "path %q", tc.path)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	e := newTestEnv(t)

	var got map[string]interface{}
	status := e.doJSON("GET", "/settings", nil, &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "base.en", got["whisperModel"])
	assert.Equal(t, true, got["keepAudio"])

	status = e.doJSON("PATCH", "/settings", map[string]interface{}{
		"chunkDurationSeconds": 120,
		"keepAudio":            false,
	}, &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(120), got["chunkDurationSeconds"])
	assert.Equal(t, false, got["keepAudio"])

	status = e.doJSON("PATCH", "/settings", map[string]interface{}{"volume": 11}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = e.doJSON("PATCH", "/settings", map[string]interface{}{"keepAudio": "sure"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Nothing was written by the rejected requests.
	st, err := settings.Load(e.store)
	require.NoError(t, err)
	assert.Equal(t, 120, st.ChunkDurationSeconds)
}

func TestValidatePathEndpoint(t *testing.T) {
	e := newTestEnv(t)

	dir := t.TempDir()
	var got map[string]interface{}
	status := e.doJSON("POST", "/validate-path", map[string]string{"path": dir}, &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, got["valid"])

	status = e.doJSON("POST", "/validate-path", map[string]string{"path": filepath.Join(dir, "missing")}, &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, got["exists"])

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	status = e.doJSON("POST", "/validate-path", map[string]string{"path": file}, &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, got["exists"])
	assert.Equal(t, false, got["isDir"])

	status = e.doJSON("POST", "/validate-path", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListEntriesEndpoint(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		e.createEntry(database.KindQuickNote)
	}

	var resp struct {
		Entries []database.Entry `json:"entries"`
		Count   int64            `json:"count"`
	}
	status := e.doJSON("GET", "/entries?limit=2", nil, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, resp.Entries, 2)
	assert.Equal(t, int64(3), resp.Count)
}

func TestOpenNoteValidation(t *testing.T) {
	e := newTestEnv(t)
	id := e.createEntry(database.KindQuickNote)

	status := e.doJSON("POST", "/open-note", map[string]string{"entryId": id, "action": "obsidian"}, nil)
	assert.Equal(t, http.StatusBadRequest, status, "no note written yet")

	status = e.doJSON("POST", "/open-note", map[string]string{"entryId": "missing", "action": "obsidian"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
