// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package vaultgit

import (
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitNoteOutsideRepo(t *testing.T) {
	err := CommitNote(t.TempDir(), []string{"journal/x.md"}, "journal: x.md")
	assert.ErrorIs(t, err, ErrNotARepo)
}

func TestCommitNoteCreatesCommit(t *testing.T) {
	vault := t.TempDir()
	repo, err := git.PlainInit(vault, false)
	require.NoError(t, err)

	rel := filepath.Join("journal", "2026-08-06-120000-quick-note.md")
	abs := filepath.Join(vault, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte("# Note\n"), 0644))

	require.NoError(t, CommitNote(vault, []string{rel}, "journal: note"))

	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "journal: note", commit.Message)
	assert.Equal(t, "WhisperJournal", commit.Author.Name)
}

func TestCommitNoteCleanTreeIsNoop(t *testing.T) {
	vault := t.TempDir()
	_, err := git.PlainInit(vault, false)
	require.NoError(t, err)

	rel := "journal/x.md"
	abs := filepath.Join(vault, "journal", "x.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte("body\n"), 0644))

	require.NoError(t, CommitNote(vault, []string{rel}, "first"))
	// Committing the same content again is a no-op, not an error.
	require.NoError(t, CommitNote(vault, []string{rel}, "second"))
}

func TestCommitNoteEmptyPathList(t *testing.T) {
	vault := t.TempDir()
	_, err := git.PlainInit(vault, false)
	require.NoError(t, err)

	assert.NoError(t, CommitNote(vault, nil, "nothing"))
}
