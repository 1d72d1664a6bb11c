// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package task defines the Task and Proposal entities and the state machine
// that owns their lifecycle.
//
// A Task is one natural-language change request tracked from submission
// through staging, testing, approval and final apply or rollback. A Proposal
// is one discrete file-level change belonging to a Task; Proposals are the
// unit of human approval.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task.
//
// Status is a closed enumeration. All transitions between statuses go
// through StateMachine.Transition; nothing else may write Task.Status.
type Status string

const (
	StatusCreated         Status = "created"
	StatusStaged          Status = "staged"
	StatusTesting         Status = "testing"
	StatusTested          Status = "tested"
	StatusPendingApproval Status = "pending_approval"
	StatusApplied         Status = "applied"
	StatusDenied          Status = "denied"
	StatusFailed          Status = "failed"
	StatusDeleted         Status = "deleted"
)

// AllStatuses returns every defined task status.
func AllStatuses() []Status {
	return []Status{
		StatusCreated,
		StatusStaged,
		StatusTesting,
		StatusTested,
		StatusPendingApproval,
		StatusApplied,
		StatusDenied,
		StatusFailed,
		StatusDeleted,
	}
}

// IsTerminal reports whether no further automated processing is allowed.
// A denied or failed Task may only be resubmitted as a brand-new Task.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApplied, StatusDenied, StatusFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// StagedFile is one candidate file in a Task's change set.
//
// The staged file set is replaced wholesale on regeneration and never
// partially mutated.
type StagedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Task is the unit of work: one change request and its full lifecycle.
type Task struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Status Status `json:"status"`

	// StagedFiles is the ordered candidate change set. Set once per
	// staging; empty until files are produced.
	StagedFiles []StagedFile `json:"staged_files,omitempty"`

	// OriginalContent and NewContent hold per-file content for diff
	// presentation. Populated at staging time, immutable afterward.
	OriginalContent map[string]string `json:"original_content,omitempty"`
	NewContent      map[string]string `json:"new_content,omitempty"`

	// TestURL and TestInstructions describe the most recent test attempt.
	TestURL          string `json:"test_url,omitempty"`
	TestInstructions string `json:"test_instructions,omitempty"`

	// ProposedChanges are human-readable descriptions of the discrete
	// changes, tied 1:1 with Proposal records once the gate is armed.
	ProposedChanges []string `json:"proposed_changes,omitempty"`

	// Version is bumped on every successful store write and is the
	// compare-and-swap token for optimistic concurrency.
	Version uint64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a Task in the created state.
func NewTask(prompt string, now time.Time) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the task. The state machine and gate operate
// on clones so a failed store write never leaves a half-mutated snapshot.
func (t *Task) Clone() *Task {
	cp := *t
	if t.StagedFiles != nil {
		cp.StagedFiles = make([]StagedFile, len(t.StagedFiles))
		copy(cp.StagedFiles, t.StagedFiles)
	}
	if t.OriginalContent != nil {
		cp.OriginalContent = make(map[string]string, len(t.OriginalContent))
		for k, v := range t.OriginalContent {
			cp.OriginalContent[k] = v
		}
	}
	if t.NewContent != nil {
		cp.NewContent = make(map[string]string, len(t.NewContent))
		for k, v := range t.NewContent {
			cp.NewContent[k] = v
		}
	}
	if t.ProposedChanges != nil {
		cp.ProposedChanges = make([]string, len(t.ProposedChanges))
		copy(cp.ProposedChanges, t.ProposedChanges)
	}
	return &cp
}

// HasStagedFiles reports whether the task has a usable change set: at least
// one entry, each with a non-empty path and content.
func (t *Task) HasStagedFiles() bool {
	if len(t.StagedFiles) == 0 {
		return false
	}
	for _, f := range t.StagedFiles {
		if f.Path == "" || f.Content == "" {
			return false
		}
	}
	return true
}

// ProposalStatus is the decision state of a Proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalDenied   ProposalStatus = "denied"
)

// Proposal is one discrete file-level change awaiting a human decision.
//
// A Proposal may only leave pending while its parent Task is in
// pending_approval; the gate enforces this.
type Proposal struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	File      string         `json:"file"`
	Content   string         `json:"content"`
	Status    ProposalStatus `json:"status"`
	Version   uint64         `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewProposal creates a pending Proposal for the given task and file.
func NewProposal(taskID, file, content string, now time.Time) *Proposal {
	return &Proposal{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		File:      file,
		Content:   content,
		Status:    ProposalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ErrorClass classifies a failed test attempt's diagnostic output.
type ErrorClass string

const (
	ErrClassSelectorNotFound ErrorClass = "selector_not_found"
	ErrClassNoStagedFiles    ErrorClass = "no_staged_files"
	ErrClassTimeout          ErrorClass = "timeout"
	ErrClassUnknown          ErrorClass = "unknown"
)

// TestAttempt is the outcome of a single test execution attempt. Attempts
// are ephemeral: they are reported and logged but not persisted beyond the
// current run.
type TestAttempt struct {
	AttemptNumber int        `json:"attempt_number"`
	ErrorClass    ErrorClass `json:"error_class,omitempty"`
	FixApplied    bool       `json:"fix_applied"`
	ElapsedMs     int64      `json:"elapsed_ms"`
}
