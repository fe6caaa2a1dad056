// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package runner

import (
	"os/exec"
	"sync"
)

// ProcTable tracks the live child process per entry so the cancel path can
// kill it. The worker registers a process right after Start and unregisters
// it when the stage body returns; at most one process is live per entry.
type ProcTable struct {
	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// NewProcTable creates an empty process table
func NewProcTable() *ProcTable {
	return &ProcTable{procs: make(map[string]*exec.Cmd)}
}

// Register records the live child process for an entry
func (t *ProcTable) Register(entryID string, cmd *exec.Cmd) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[entryID] = cmd
}

// Unregister clears the entry's process slot
func (t *ProcTable) Unregister(entryID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, entryID)
}

// Kill best-effort terminates the entry's live child process. Returns true
// when a process was found and signalled.
func (t *ProcTable) Kill(entryID string) bool {
	t.mu.Lock()
	cmd := t.procs[entryID]
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false
	}

	// The stage body waiting on this process surfaces the kill as an error;
	// the runner then checks the cancel flag and finalizes as cancelled.
	_ = cmd.Process.Kill()
	return true
}
