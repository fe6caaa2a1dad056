// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/whisperjournal/internal/database"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()

	db, err := database.Connect(&database.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	return database.NewStore(db)
}

func TestSeedAndLoadDefaults(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, Seed(store))

	st, err := Load(store)
	require.NoError(t, err)

	assert.Equal(t, "base.en", st.WhisperModel)
	assert.Equal(t, "http://localhost:11434", st.LLMBaseURL)
	assert.True(t, st.KeepAudio)
	assert.False(t, st.VADEnabled)
	assert.Equal(t, 60, st.ChunkDurationSeconds)
	assert.Equal(t, "UTC", st.DefaultTimezone)
}

func TestLoadReflectsWrites(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, Seed(store))

	require.NoError(t, store.SetSetting(KeyChunkDurationSeconds, "120"))
	require.NoError(t, store.SetSetting(KeyKeepAudio, "false"))
	require.NoError(t, store.SetSetting(KeyVaultPath, "/tmp/vault"))

	st, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, 120, st.ChunkDurationSeconds)
	assert.False(t, st.KeepAudio)
	assert.Equal(t, "/tmp/vault", st.VaultPath)
}

func TestDecodeRejectsBadTypes(t *testing.T) {
	_, err := Decode(map[string]string{KeyChunkDurationSeconds: "sixty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")

	_, err = Decode(map[string]string{KeyKeepAudio: "yep"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a boolean")
}

func TestDecodeFallsBackToDefaults(t *testing.T) {
	st, err := Decode(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 60, st.ChunkDurationSeconds)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(KeyVaultPath, "/anything"))
	assert.NoError(t, Validate(KeyKeepAudio, "true"))
	assert.NoError(t, Validate(KeyChunkDurationSeconds, "90"))

	assert.Error(t, Validate(KeyKeepAudio, "maybe"))
	assert.Error(t, Validate(KeyChunkDurationSeconds, "ninety"))
	assert.Error(t, Validate("no_such_key", "x"))
}

func TestCamelKeyMappingIsComplete(t *testing.T) {
	// Every typed key has exactly one camelCase name and vice versa.
	assert.Len(t, CamelKeys, len(KeyTypes))
	for camel, key := range CamelKeys {
		assert.Contains(t, KeyTypes, key, "camel %s maps to unknown key", camel)
		assert.Equal(t, camel, KeyToCamel[key])
	}
}

func TestResolveWhisperModel(t *testing.T) {
	st := &Settings{WhisperModel: "base.en"}
	assert.Equal(t, filepath.Join(ModelsDir(), "ggml-base.en.bin"), st.ResolveWhisperModel())

	st.WhisperModelPath = "/models/custom.bin"
	assert.Equal(t, "/models/custom.bin", st.ResolveWhisperModel())
}
