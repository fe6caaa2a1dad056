// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package runner drives entries through the pipeline state machine: a single
// worker with a stable identity, a database lease per entry, heartbeats for
// liveness, and a child-process table for cancellation.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tejzpr/whisperjournal/internal/audio"
	"github.com/tejzpr/whisperjournal/internal/database"
	"github.com/tejzpr/whisperjournal/internal/llm"
	"github.com/tejzpr/whisperjournal/internal/note"
	"github.com/tejzpr/whisperjournal/internal/settings"
	"github.com/tejzpr/whisperjournal/internal/transcribe"
)

// Defaults for the worker loop
const (
	DefaultTick         = time.Second
	DefaultHeartbeatTTL = 5 * time.Minute
)

// StaleResetMessage is the stage message stamped on recovered entries
const StaleResetMessage = "Reset to queue after stale heartbeat"

// Transcriber converts a normalized WAV into text
type Transcriber interface {
	Transcribe(ctx context.Context, wav string, duration float64, tempDir string, onStart audio.OnStart, onChunk transcribe.OnChunk) (string, error)
}

// Generator produces the LLM-written bodies for an entry
type Generator interface {
	Generate(ctx context.Context, transcript string, answers map[string]database.PromptAnswer, kind string) (llm.Result, error)
}

// NoteWriter writes the final document into the vault
type NoteWriter interface {
	WriteNote(entry *database.Entry, transcript string, answers map[string]database.PromptAnswer, generated map[string]string) (string, time.Time, error)
}

// AudioTools covers the ffmpeg/ffprobe operations the worker needs
type AudioTools interface {
	Probe(ctx context.Context, path string) (float64, error)
	Normalize(ctx context.Context, src, dst string, onStart audio.OnStart) error
	Remove(path string) error
}

// Deps are the worker's collaborators. The per-stage factories take a fresh
// settings snapshot so settings edits apply from the next stage onward.
type Deps struct {
	Store          *database.Store
	Audio          AudioTools
	NewTranscriber func(st *settings.Settings) Transcriber
	NewGenerator   func(st *settings.Settings) Generator
	NewNoteWriter  func(st *settings.Settings) NoteWriter

	// AfterWrite, when set, runs after a successful note write (e.g. the
	// vault git auto-commit). It must not fail the pipeline.
	AfterWrite func(st *settings.Settings, relPath string)
}

// Worker is the single pipeline worker
type Worker struct {
	id    string
	deps  Deps
	procs *ProcTable
	tick  time.Duration
	ttl   time.Duration
	nudge chan string
}

// New creates a worker with a fresh identity
func New(deps Deps) *Worker {
	return &Worker{
		id:    "worker-" + uuid.NewString()[:8],
		deps:  deps,
		procs: NewProcTable(),
		tick:  DefaultTick,
		ttl:   DefaultHeartbeatTTL,
		nudge: make(chan string, 16),
	}
}

// WithTick overrides the tick interval (tests use a short one)
func (w *Worker) WithTick(d time.Duration) *Worker {
	w.tick = d
	return w
}

// WithHeartbeatTTL overrides the stale-heartbeat threshold
func (w *Worker) WithHeartbeatTTL(d time.Duration) *Worker {
	w.ttl = d
	return w
}

// ID returns the worker's identity string
func (w *Worker) ID() string {
	return w.id
}

// Procs exposes the child-process table to the cancel path
func (w *Worker) Procs() *ProcTable {
	return w.procs
}

// Nudge asks the worker to resume a specific entry (after an HTTP continue)
func (w *Worker) Nudge(entryID string) {
	select {
	case w.nudge <- entryID:
	default:
		// Queue full; the entry stays in its stage and a later nudge or
		// restart picks it up.
	}
}

// Run drives the worker loop until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.nudge:
			w.resume(ctx, id)
		case <-ticker.C:
			w.processTick(ctx)
		}
	}
}

// processTick runs one scheduling pass: recover stuck entries, finalize
// pending cancellations, then pick and run the oldest queued entry.
func (w *Worker) processTick(ctx context.Context) {
	if n, err := w.deps.Store.ResetStale(w.ttl, StaleResetMessage); err != nil {
		log.Printf("worker: failed to reset stale entries: %v", err)
	} else if n > 0 {
		log.Printf("worker: reset %d stale entries to queue", n)
	}

	w.finalizePendingCancels()

	entry, err := w.deps.Store.NextQueued()
	if err != nil {
		log.Printf("worker: failed to fetch queue: %v", err)
		return
	}
	if entry == nil {
		return
	}

	acquired, err := w.deps.Store.AcquireLease(entry.ID, w.id, database.StageQueued)
	if err != nil {
		log.Printf("worker: failed to acquire lease for %s: %v", entry.ID, err)
		return
	}
	if !acquired {
		return
	}

	w.runEntry(ctx, entry.ID)
}

// resume picks up an entry the HTTP layer advanced out of an awaiting stage
func (w *Worker) resume(ctx context.Context, id string) {
	entry, err := w.deps.Store.GetEntry(id)
	if err != nil {
		log.Printf("worker: failed to load nudged entry %s: %v", id, err)
		return
	}

	switch entry.Stage {
	case database.StageGenerating, database.StageWriting:
	default:
		return
	}

	acquired, err := w.deps.Store.AcquireLease(id, w.id, entry.Stage)
	if err != nil || !acquired {
		return
	}

	w.runEntry(ctx, id)
}

// finalizePendingCancels completes cancellation for entries whose cancel
// request arrived while no run was active (e.g. cancelled in the queue).
// The worker is single-threaded, so nothing else is running here.
func (w *Worker) finalizePendingCancels() {
	entries, err := w.deps.Store.ListByStage(database.StageCancelRequested)
	if err != nil {
		log.Printf("worker: failed to list cancel requests: %v", err)
		return
	}
	for i := range entries {
		w.finalizeCancel(&entries[i])
	}
}

// runEntry advances one leased entry through consecutive stages until it
// parks, completes, fails, or is cancelled. The entry is re-read before each
// stage so cancel requests and HTTP edits become visible at stage boundaries.
func (w *Worker) runEntry(ctx context.Context, id string) {
	for {
		if ctx.Err() != nil {
			_ = w.deps.Store.ReleaseLease(id, w.id)
			return
		}

		entry, err := w.deps.Store.GetEntry(id)
		if err != nil {
			log.Printf("worker: failed to reload entry %s: %v", id, err)
			return
		}

		switch entry.Stage {
		case database.StageCancelRequested:
			w.finalizeCancel(entry)
			return

		case database.StageQueued:
			w.setStage(id, database.StageNormalizing, "Normalizing audio")

		case database.StageNormalizing:
			if err := w.normalize(ctx, entry); err != nil {
				w.failOrCancel(entry, err)
				return
			}
			w.setStage(id, database.StageTranscribing, "Transcribing audio")

		case database.StageTranscribing:
			if err := w.transcribeStage(ctx, entry); err != nil {
				w.failOrCancel(entry, err)
				return
			}
			w.setStage(id, database.StageAwaitingReview, "Waiting for transcript review")
			_ = w.deps.Store.ReleaseLease(id, w.id)
			return

		case database.StageGenerating:
			if err := w.generate(ctx, entry); err != nil {
				w.failOrCancel(entry, err)
				return
			}
			w.setStage(id, database.StageWriting, "Writing note")

		case database.StageWriting:
			if err := w.write(ctx, entry); err != nil {
				w.failOrCancel(entry, err)
				return
			}
			_ = w.deps.Store.ReleaseLease(id, w.id)
			return

		default:
			// Awaiting stages and terminal stages are not worker-driven.
			_ = w.deps.Store.ReleaseLease(id, w.id)
			return
		}
	}
}

// setStage advances the stage while keeping the lease
func (w *Worker) setStage(id, stage, message string) {
	err := w.deps.Store.UpdateEntry(id, map[string]interface{}{
		"stage":         stage,
		"stage_message": message,
	})
	if err != nil {
		log.Printf("worker: failed to set stage %s on %s: %v", stage, id, err)
	}
}

// failOrCancel records a stage failure, unless a cancel request raced the
// failure (a killed child process surfaces as an error here), in which case
// the entry finalizes as cancelled rather than failed.
func (w *Worker) failOrCancel(entry *database.Entry, stageErr error) {
	current, err := w.deps.Store.GetEntry(entry.ID)
	if err == nil && current.Stage == database.StageCancelRequested {
		w.finalizeCancel(current)
		return
	}

	log.Printf("worker: entry %s failed: %v", entry.ID, stageErr)
	updateErr := w.deps.Store.UpdateEntry(entry.ID, map[string]interface{}{
		"stage":         database.StageFailed,
		"stage_message": "Failed",
		"error_message": stageErr.Error(),
		"locked_by":     "",
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
	if updateErr != nil {
		log.Printf("worker: failed to record failure for %s: %v", entry.ID, updateErr)
	}
}

// finalizeCancel completes a cancel request: kill the live child process,
// remove the normalized WAV, mark cancelled and clear the lease.
func (w *Worker) finalizeCancel(entry *database.Entry) {
	w.procs.Kill(entry.ID)

	if entry.NormalizedAudioPath != "" {
		if st, err := settings.Load(w.deps.Store); err == nil {
			_ = w.deps.Audio.Remove(filepath.Join(st.VaultPath, filepath.FromSlash(entry.NormalizedAudioPath)))
		}
	}

	err := w.deps.Store.UpdateEntry(entry.ID, map[string]interface{}{
		"stage":         database.StageCancelled,
		"stage_message": "Cancelled",
		"locked_by":     "",
		"locked_at":     nil,
		"heartbeat_at":  nil,
	})
	if err != nil {
		log.Printf("worker: failed to finalize cancel for %s: %v", entry.ID, err)
	}
}

// heartbeat refreshes the lease before a long-running call
func (w *Worker) heartbeat(id string) {
	if _, err := w.deps.Store.Heartbeat(id, w.id); err != nil {
		log.Printf("worker: heartbeat failed for %s: %v", id, err)
	}
}

// register returns an OnStart callback that tracks the entry's child process
func (w *Worker) register(id string) audio.OnStart {
	return func(cmd *exec.Cmd) {
		w.procs.Register(id, cmd)
	}
}

// normalize measures the source duration and resamples it to the canonical
// WAV. Re-running after a crash overwrites the same output file.
func (w *Worker) normalize(ctx context.Context, entry *database.Entry) error {
	st, err := settings.Load(w.deps.Store)
	if err != nil {
		return err
	}

	if entry.OriginalAudioPath == "" {
		return fmt.Errorf("entry has no uploaded audio")
	}
	src := filepath.Join(st.VaultPath, filepath.FromSlash(entry.OriginalAudioPath))

	w.heartbeat(entry.ID)

	duration, err := w.deps.Audio.Probe(ctx, src)
	if err != nil {
		return err
	}
	if err := w.deps.Store.UpdateEntry(entry.ID, map[string]interface{}{
		"audio_duration": duration,
	}); err != nil {
		return err
	}

	relDst := note.AudioDir + "/" + entry.ID + "-normalized.wav"
	dst := filepath.Join(st.VaultPath, filepath.FromSlash(relDst))

	defer w.procs.Unregister(entry.ID)
	if err := w.deps.Audio.Normalize(ctx, src, dst, w.register(entry.ID)); err != nil {
		return err
	}

	return w.deps.Store.UpdateEntry(entry.ID, map[string]interface{}{
		"normalized_audio_path": relDst,
	})
}

// transcribeStage runs speech-to-text and locks the raw transcript. If a
// previous run already locked it, the stage is a no-op so the first
// transcription survives resets.
func (w *Worker) transcribeStage(ctx context.Context, entry *database.Entry) error {
	if entry.RawTranscriptLockedAt != nil {
		return nil
	}

	st, err := settings.Load(w.deps.Store)
	if err != nil {
		return err
	}

	tr := w.deps.NewTranscriber(st)
	wav := filepath.Join(st.VaultPath, filepath.FromSlash(entry.NormalizedAudioPath))
	chunkDir := filepath.Join(st.VaultPath, filepath.FromSlash(note.AudioDir))

	defer w.procs.Unregister(entry.ID)
	defer cleanupChunks(chunkDir)

	w.heartbeat(entry.ID)
	text, err := tr.Transcribe(ctx, wav, entry.AudioDuration, chunkDir, w.register(entry.ID), func(index, total int) {
		w.heartbeat(entry.ID)
		if total > 1 {
			w.setStageMessage(entry.ID, fmt.Sprintf("Transcribing chunk %d of %d", index+1, total))
		}
	})
	if err != nil {
		return err
	}

	return w.deps.Store.UpdateEntry(entry.ID, map[string]interface{}{
		"raw_transcript":           text,
		"raw_transcript_locked_at": time.Now().UTC(),
	})
}

// generate calls the LLM and stores the produced sections
func (w *Worker) generate(ctx context.Context, entry *database.Entry) error {
	st, err := settings.Load(w.deps.Store)
	if err != nil {
		return err
	}

	w.heartbeat(entry.ID)

	gen := w.deps.NewGenerator(st)
	result, err := gen.Generate(ctx, entry.Transcript(), entry.PromptAnswers, entry.Kind)
	if err != nil {
		return err
	}

	sections := make(map[string]string)
	switch entry.Kind {
	case database.KindBrainDump:
		sections[note.SectionJournal] = result.Content
	case database.KindDailyReflection:
		sections[note.SectionAIReflection] = result.Reflection
	}

	return w.deps.Store.UpdateEntry(entry.ID, map[string]interface{}{
		"generated_sections": sections,
	})
}

// write produces the note, records its path and mtime, cleans up audio when
// configured, and marks the entry completed.
func (w *Worker) write(ctx context.Context, entry *database.Entry) error {
	st, err := settings.Load(w.deps.Store)
	if err != nil {
		return err
	}

	w.heartbeat(entry.ID)

	// When audio is not kept, the note must not reference files about to be
	// deleted; write it without the audio section.
	noteEntry := *entry
	if !st.KeepAudio {
		noteEntry.OriginalAudioPath = ""
	}

	writer := w.deps.NewNoteWriter(st)
	relPath, mtime, err := writer.WriteNote(&noteEntry, entry.Transcript(), entry.PromptAnswers, entry.GeneratedSections)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"note_path":     relPath,
		"note_mtime":    mtime,
		"stage":         database.StageCompleted,
		"stage_message": "Completed",
		"error_message": "",
		"locked_by":     "",
		"locked_at":     nil,
		"heartbeat_at":  nil,
	}

	if !st.KeepAudio {
		for _, rel := range []string{entry.OriginalAudioPath, entry.NormalizedAudioPath} {
			if rel == "" {
				continue
			}
			if rmErr := w.deps.Audio.Remove(filepath.Join(st.VaultPath, filepath.FromSlash(rel))); rmErr != nil {
				log.Printf("worker: failed to remove audio for %s: %v", entry.ID, rmErr)
			}
		}
		updates["original_audio_path"] = ""
		updates["normalized_audio_path"] = ""
	}

	if err := w.deps.Store.UpdateEntry(entry.ID, updates); err != nil {
		return err
	}

	if w.deps.AfterWrite != nil {
		w.deps.AfterWrite(st, relPath)
	}

	return nil
}

// setStageMessage updates only the human-readable progress line
func (w *Worker) setStageMessage(id, message string) {
	err := w.deps.Store.UpdateEntry(id, map[string]interface{}{
		"stage_message": message,
	})
	if err != nil {
		log.Printf("worker: failed to set stage message on %s: %v", id, err)
	}
}

// cleanupChunks removes transient chunk files left in the audio directory
func cleanupChunks(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "chunk_*.wav"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// NextStageOnContinue maps an awaiting entry onto the stage a continue
// request advances it to. Returns false when the entry is not awaiting.
func NextStageOnContinue(entry *database.Entry) (string, bool) {
	switch entry.Stage {
	case database.StageAwaitingReview:
		switch entry.Kind {
		case database.KindQuickNote:
			return database.StageWriting, true
		case database.KindBrainDump:
			return database.StageGenerating, true
		case database.KindDailyReflection:
			return database.StageAwaitingPrompts, true
		}
	case database.StageAwaitingPrompts:
		return database.StageGenerating, true
	}
	return "", false
}
