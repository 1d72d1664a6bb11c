// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testrun

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Workspace is an attempt-scoped materialization of a task's staged files.
// Staged content is only ever written here, never to the permanent target
// location, so a failed attempt cannot leak partial writes.
type Workspace struct {
	// Dir is the temp directory holding the staged files.
	Dir string
}

// Materialize writes the staged files into a fresh temp directory.
//
// Description:
//
//	Each staged file is written under its relative path inside the temp
//	directory. Paths that would escape the workspace (absolute or with
//	".." traversal) are rejected. On any write failure the partially
//	built workspace is removed before returning.
//
// Outputs:
//
//	*Workspace - The built workspace. Caller must Cleanup() it on every
//	             exit path, success or failure.
//	error - Non-nil on invalid paths or I/O failure.
func Materialize(files []task.StagedFile) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "pipeline-testrun-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{Dir: dir}
	for _, f := range files {
		if err := ws.write(f); err != nil {
			ws.Cleanup()
			return nil, err
		}
	}
	return ws, nil
}

func (w *Workspace) write(f task.StagedFile) error {
	if filepath.IsAbs(f.Path) || strings.Contains(f.Path, "..") {
		return fmt.Errorf("staged path %q escapes workspace", f.Path)
	}

	dest := filepath.Join(w.Dir, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("create workspace subdirectory for %s: %w", f.Path, err)
	}
	if err := os.WriteFile(dest, []byte(f.Content), 0640); err != nil {
		return fmt.Errorf("write staged file %s: %w", f.Path, err)
	}
	return nil
}

// Cleanup removes the workspace directory. Safe to call more than once.
func (w *Workspace) Cleanup() {
	if w.Dir == "" {
		return
	}
	_ = os.RemoveAll(w.Dir)
	w.Dir = ""
}
