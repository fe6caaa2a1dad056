// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/whisperjournal/internal/database"
)

func TestGenerateQuickNoteSkipsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("quick-note must not call the LLM")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-model")
	result, err := client.Generate(context.Background(), "anything", nil, database.KindQuickNote)
	require.NoError(t, err)
	assert.Empty(t, result.Content)
	assert.Empty(t, result.Reflection)
}

func TestGenerateBrainDump(t *testing.T) {
	var gotReq GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(GenerateResponse{Response: "## TL;DR\n\nFine day.", Done: true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-model")
	result, err := client.Generate(context.Background(), "today went well", nil, database.KindBrainDump)
	require.NoError(t, err)
	assert.Equal(t, "## TL;DR\n\nFine day.", result.Content)
	assert.Empty(t, result.Reflection)

	assert.Equal(t, "test-model", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, 0.7, gotReq.Options["temperature"])
	assert.Equal(t, float64(4096), gotReq.Options["num_predict"])
	// Transcript is interpolated verbatim inside the fences.
	assert.Contains(t, gotReq.Prompt, "\"\"\"\ntoday went well\n\"\"\"")
}

func TestGenerateDailyReflection(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Prompt
		_ = json.NewEncoder(w).Encode(GenerateResponse{Response: "I am grateful.", Done: true})
	}))
	defer srv.Close()

	answers := map[string]database.PromptAnswer{
		database.PromptGratitude: {Text: "coffee"},
		database.PromptTomorrow:  {AudioTranscript: "ship the release"},
	}

	client := NewClient(srv.URL, "test-model")
	result, err := client.Generate(context.Background(), "", answers, database.KindDailyReflection)
	require.NoError(t, err)
	assert.Equal(t, "I am grateful.", result.Reflection)

	assert.Contains(t, gotPrompt, "Gratitude: coffee")
	assert.Contains(t, gotPrompt, "Tomorrow: ship the release")
	assert.NotContains(t, gotPrompt, "Challenges:")
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "missing-model")
	_, err := client.Generate(context.Background(), "text", nil, database.KindBrainDump)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGenerateSurfacesTransportErrors(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "test-model")
	_, err := client.Generate(context.Background(), "text", nil, database.KindBrainDump)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM request failed")
}

func TestGenerateUnknownKind(t *testing.T) {
	client := NewClient("http://localhost:11434", "m")
	_, err := client.Generate(context.Background(), "text", nil, "mystery")
	require.Error(t, err)
}

func TestBuildBrainDumpPromptSections(t *testing.T) {
	prompt := BuildBrainDumpPrompt("the transcript")

	for _, section := range []string{
		"TL;DR", "Today in 6 Bullets", "What Actually Mattered",
		"Distractions vs Leverage", "Decisions", "Friction", "Emotional State",
		"Money", "90-day Extrapolation", "Identity Continuation",
		"Three Non-Negotiables", "Open Loops", "Identity Check", "Tags",
	} {
		assert.Contains(t, prompt, "## "+section)
	}
	assert.Contains(t, prompt, "the transcript")
}

func TestBuildReflectionPromptOrder(t *testing.T) {
	answers := map[string]database.PromptAnswer{
		database.PromptTomorrow:  {Text: "rest"},
		database.PromptGratitude: {Text: "health"},
	}

	prompt := BuildReflectionPrompt(answers)

	// Prompt keys keep presentation order regardless of map order.
	gratitudeIdx := strings.Index(prompt, "Gratitude: health")
	tomorrowIdx := strings.Index(prompt, "Tomorrow: rest")
	require.GreaterOrEqual(t, gratitudeIdx, 0)
	require.GreaterOrEqual(t, tomorrowIdx, 0)
	assert.Less(t, gratitudeIdx, tomorrowIdx)
}
