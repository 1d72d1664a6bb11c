// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline. Every externally surfaced failure wraps
// exactly one of these so callers can map it to a stable error kind.
var (
	// ErrInvalidPrompt indicates an empty or whitespace-only prompt.
	ErrInvalidPrompt = errors.New("prompt must not be empty")

	// ErrDuplicate indicates a submission whose idempotency key was seen
	// within the dedup window. Not a failure: the original task stands.
	ErrDuplicate = errors.New("duplicate submission")

	// ErrInvalidTransition indicates a status edge that does not exist in
	// the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPreconditionFailed indicates a state-specific invariant failed,
	// e.g. entering pending_approval with no staged files.
	ErrPreconditionFailed = errors.New("transition precondition failed")

	// ErrNoStagedFiles indicates a test run was requested for a task with
	// no usable staged files. No attempt is consumed.
	ErrNoStagedFiles = errors.New("task has no staged files")

	// ErrConcurrentManualRun indicates a manual test run is already active
	// for the task. The interactive browser is serialized per task.
	ErrConcurrentManualRun = errors.New("manual test run already in progress")

	// ErrNotFound indicates an unknown task or proposal id.
	ErrNotFound = errors.New("not found")
)

// Stable error-kind names surfaced to API clients.
const (
	KindInvalidPrompt               = "InvalidPrompt"
	KindDuplicate                   = "Duplicate"
	KindInvalidTransition           = "InvalidTransition"
	KindPreconditionFailed          = "PreconditionFailed"
	KindNoStagedFiles               = "NoStagedFiles"
	KindConcurrentManualRun         = "ConcurrentManualRun"
	KindNotFound                    = "NotFound"
	KindExternalCollaboratorFailure = "ExternalCollaboratorFailure"
	KindInternal                    = "internal"
)

// Kind returns the stable error-kind string for a pipeline error, or
// KindInternal when the error does not wrap a known sentinel.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPrompt):
		return KindInvalidPrompt
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrPreconditionFailed):
		return KindPreconditionFailed
	case errors.Is(err, ErrNoStagedFiles):
		return KindNoStagedFiles
	case errors.Is(err, ErrConcurrentManualRun):
		return KindConcurrentManualRun
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		var ce *CollaboratorError
		if errors.As(err, &ce) {
			return KindExternalCollaboratorFailure
		}
		return KindInternal
	}
}

// CollaboratorError wraps a failure from an external collaborator (change
// store, notifier, test runner, apply/rollback) with the collaborator name.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// WrapCollaborator wraps err with the originating collaborator name.
// Returns nil when err is nil.
func WrapCollaborator(name string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: name, Err: err}
}
