// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Applier is the apply/rollback collaborator: it commits a task's staged
// files to their permanent location or discards them. Apply must tolerate
// repeated invocation for the same task; the gate calls Rollback at most
// once per task.
type Applier interface {
	// Apply writes the task's staged files to the permanent target.
	Apply(ctx context.Context, t *task.Task) error

	// Rollback discards the task's staged changes.
	Rollback(ctx context.Context, t *task.Task) error
}

// FSApplier applies staged files under a target root on the local
// filesystem. Rollback removes the task's staging area.
type FSApplier struct {
	// TargetRoot is where approved files land.
	TargetRoot string

	// StagingRoot holds per-task staging areas discarded on rollback.
	StagingRoot string
}

// NewFSApplier creates a filesystem applier rooted at targetRoot.
func NewFSApplier(targetRoot, stagingRoot string) *FSApplier {
	return &FSApplier{TargetRoot: targetRoot, StagingRoot: stagingRoot}
}

// Apply writes every staged file under the target root.
func (a *FSApplier) Apply(ctx context.Context, t *task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range t.StagedFiles {
		if filepath.IsAbs(f.Path) || strings.Contains(f.Path, "..") {
			return fmt.Errorf("staged path %q escapes target root", f.Path)
		}
		dest := filepath.Join(a.TargetRoot, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
			return fmt.Errorf("create target directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0640); err != nil {
			return fmt.Errorf("apply %s: %w", f.Path, err)
		}
	}
	return nil
}

// Rollback removes the task's staging area. Missing directories are fine:
// rollback after a crash must succeed.
func (a *FSApplier) Rollback(ctx context.Context, t *task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.StagingRoot == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(a.StagingRoot, t.ID))
}
