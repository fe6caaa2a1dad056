// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package vaultgit auto-commits written notes when the vault root is a git
// work tree. Local only; nothing is ever pushed.
package vaultgit

import (
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Committer signature used for journal commits
const (
	commitAuthor = "WhisperJournal"
	commitEmail  = "journal@whisperjournal.local"
)

// ErrNotARepo is returned when the vault is not a git work tree
var ErrNotARepo = errors.New("vault is not a git repository")

// CommitNote stages the given vault-relative paths and commits them. Callers
// treat ErrNotARepo as "auto-commit not applicable", not as a failure.
func CommitNote(vaultPath string, relPaths []string, message string) error {
	repo, err := git.PlainOpen(vaultPath)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return ErrNotARepo
		}
		return fmt.Errorf("failed to open vault repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	staged := 0
	for _, rel := range relPaths {
		if rel == "" {
			continue
		}
		if _, err := worktree.Add(rel); err != nil {
			return fmt.Errorf("failed to stage %s: %w", rel, err)
		}
		staged++
	}
	if staged == 0 {
		return nil
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthor,
			Email: commitEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}
