// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tejzpr/whisperjournal/internal/database"
)

// Settings keys. The settings table stores string values; the key→type map
// below governs decoding.
const (
	KeyVaultPath            = "vault_path"
	KeyWhisperModel         = "whisper_model"
	KeyWhisperModelPath     = "whisper_model_path"
	KeyTranscriptionPrompt  = "transcription_prompt"
	KeyLLMBaseURL           = "llm_base_url"
	KeyLLMModel             = "llm_model"
	KeyKeepAudio            = "keep_audio"
	KeyDefaultTimezone      = "default_timezone"
	KeyUserName             = "user_name"
	KeyVADEnabled           = "vad_enabled"
	KeyVADModelPath         = "vad_model_path"
	KeyChunkDurationSeconds = "chunk_duration_seconds"
)

// Value types for settings decoding
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeBool   = "bool"
)

// KeyTypes is the fixed key→type map used to decode settings values
var KeyTypes = map[string]string{
	KeyVaultPath:            TypeString,
	KeyWhisperModel:         TypeString,
	KeyWhisperModelPath:     TypeString,
	KeyTranscriptionPrompt:  TypeString,
	KeyLLMBaseURL:           TypeString,
	KeyLLMModel:             TypeString,
	KeyKeepAudio:            TypeBool,
	KeyDefaultTimezone:      TypeString,
	KeyUserName:             TypeString,
	KeyVADEnabled:           TypeBool,
	KeyVADModelPath:         TypeString,
	KeyChunkDurationSeconds: TypeInt,
}

// CamelKeys maps the HTTP surface's camelCase field names onto settings keys.
// The mapping is fixed; unknown camelCase names are rejected upstream.
var CamelKeys = map[string]string{
	"vaultPath":            KeyVaultPath,
	"whisperModel":         KeyWhisperModel,
	"whisperModelPath":     KeyWhisperModelPath,
	"transcriptionPrompt":  KeyTranscriptionPrompt,
	"llmBaseUrl":           KeyLLMBaseURL,
	"llmModel":             KeyLLMModel,
	"keepAudio":            KeyKeepAudio,
	"defaultTimezone":      KeyDefaultTimezone,
	"userName":             KeyUserName,
	"vadEnabled":           KeyVADEnabled,
	"vadModelPath":         KeyVADModelPath,
	"chunkDurationSeconds": KeyChunkDurationSeconds,
}

// KeyToCamel is the inverse of CamelKeys
var KeyToCamel = func() map[string]string {
	m := make(map[string]string, len(CamelKeys))
	for camel, key := range CamelKeys {
		m[key] = camel
	}
	return m
}()

// Settings is the typed view over the settings table
type Settings struct {
	VaultPath            string
	WhisperModel         string
	WhisperModelPath     string
	TranscriptionPrompt  string
	LLMBaseURL           string
	LLMModel             string
	KeepAudio            bool
	DefaultTimezone      string
	UserName             string
	VADEnabled           bool
	VADModelPath         string
	ChunkDurationSeconds int
}

// Defaults returns the settings seeded on first open
func Defaults() map[string]string {
	home, _ := os.UserHomeDir()
	return map[string]string{
		KeyVaultPath:            filepath.Join(home, "Documents", "Vault"),
		KeyWhisperModel:         "base.en",
		KeyWhisperModelPath:     "",
		KeyTranscriptionPrompt:  "",
		KeyLLMBaseURL:           "http://localhost:11434",
		KeyLLMModel:             "llama3.1",
		KeyKeepAudio:            "true",
		KeyDefaultTimezone:      "UTC",
		KeyUserName:             "",
		KeyVADEnabled:           "false",
		KeyVADModelPath:         "",
		KeyChunkDurationSeconds: "60",
	}
}

// Seed writes defaults for any missing keys
func Seed(store *database.Store) error {
	return store.SeedSettings(Defaults())
}

// Load reads and decodes the full settings table
func Load(store *database.Store) (*Settings, error) {
	raw, err := store.GetSettings()
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode builds a typed Settings from raw string values, falling back to the
// seeded default for absent keys.
func Decode(raw map[string]string) (*Settings, error) {
	defaults := Defaults()
	get := func(key string) string {
		if v, ok := raw[key]; ok {
			return v
		}
		return defaults[key]
	}

	keepAudio, err := decodeBool(KeyKeepAudio, get(KeyKeepAudio))
	if err != nil {
		return nil, err
	}
	vadEnabled, err := decodeBool(KeyVADEnabled, get(KeyVADEnabled))
	if err != nil {
		return nil, err
	}
	chunkSeconds, err := decodeInt(KeyChunkDurationSeconds, get(KeyChunkDurationSeconds))
	if err != nil {
		return nil, err
	}

	return &Settings{
		VaultPath:            get(KeyVaultPath),
		WhisperModel:         get(KeyWhisperModel),
		WhisperModelPath:     get(KeyWhisperModelPath),
		TranscriptionPrompt:  get(KeyTranscriptionPrompt),
		LLMBaseURL:           get(KeyLLMBaseURL),
		LLMModel:             get(KeyLLMModel),
		KeepAudio:            keepAudio,
		DefaultTimezone:      get(KeyDefaultTimezone),
		UserName:             get(KeyUserName),
		VADEnabled:           vadEnabled,
		VADModelPath:         get(KeyVADModelPath),
		ChunkDurationSeconds: chunkSeconds,
	}, nil
}

// Validate checks a raw value against the key's declared type
func Validate(key, value string) error {
	typ, ok := KeyTypes[key]
	if !ok {
		return fmt.Errorf("unknown setting: %s", key)
	}

	switch typ {
	case TypeBool:
		_, err := decodeBool(key, value)
		return err
	case TypeInt:
		_, err := decodeInt(key, value)
		return err
	default:
		return nil
	}
}

// ModelsDir returns the directory scanned for installed whisper models
func ModelsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".whisperjournal", "models")
}

// ResolveWhisperModel returns the model file path the speech tool should load:
// the explicit path when set, otherwise ggml-<model>.bin under the models dir.
func (s *Settings) ResolveWhisperModel() string {
	if s.WhisperModelPath != "" {
		return s.WhisperModelPath
	}
	return filepath.Join(ModelsDir(), fmt.Sprintf("ggml-%s.bin", s.WhisperModel))
}

func decodeBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("setting %s is not a boolean: %q", key, value)
	}
	return b, nil
}

func decodeInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %q", key, value)
	}
	return n, nil
}
