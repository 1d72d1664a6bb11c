// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides durable storage for Task and Proposal entities.
//
// The store is the single source of truth for pipeline state; no component
// caches status beyond the lifetime of one request. Updates use optimistic
// concurrency: every entity carries a Version that must match the stored
// version or the write fails with ErrVersionConflict, so the state machine
// can detect lost updates.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Sentinel errors for store operations.
var (
	// ErrVersionConflict indicates a compare-and-swap failure: the entity
	// was modified since the caller read it.
	ErrVersionConflict = errors.New("version conflict")
)

// Store is the change-store contract the pipeline depends on.
//
// All writes are conditional on the entity's Version field. Create sets
// Version to 1; Update requires the caller's Version to match the stored
// one and bumps it on success.
type Store interface {
	// CreateTask persists a new task. Fails if the id already exists.
	CreateTask(ctx context.Context, t *task.Task) error

	// GetTask returns the task or task.ErrNotFound.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// UpdateTask writes the task if its Version matches the stored
	// version, then bumps Version. Returns ErrVersionConflict otherwise.
	UpdateTask(ctx context.Context, t *task.Task) error

	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]*task.Task, error)

	// DeleteTask hard-removes a task and its proposals.
	DeleteTask(ctx context.Context, id string) error

	// CreateProposal persists a new proposal.
	CreateProposal(ctx context.Context, p *task.Proposal) error

	// GetProposal returns the proposal or task.ErrNotFound.
	GetProposal(ctx context.Context, id string) (*task.Proposal, error)

	// UpdateProposal writes the proposal with the same CAS semantics as
	// UpdateTask.
	UpdateProposal(ctx context.Context, p *task.Proposal) error

	// ListProposalsByTask returns the task's proposals, oldest first.
	ListProposalsByTask(ctx context.Context, taskID string) ([]*task.Proposal, error)

	// DeleteProposalsByTask removes every proposal belonging to the task.
	// A re-test supersedes the previous decision round with a fresh set.
	DeleteProposalsByTask(ctx context.Context, taskID string) error

	// Clear removes every task and proposal.
	Clear(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// conflictRetries is the fixed retry budget for write conflicts. After
// exhaustion the conflict surfaces as an ExternalCollaboratorFailure.
const conflictRetries = 3

// conflictBackoff is the wait between conflict retries.
const conflictBackoff = 50 * time.Millisecond

// WithConflictRetry runs fn up to three times while it returns
// ErrVersionConflict.
//
// Description:
//
//	fn must re-read the entity and re-apply its mutation on every call;
//	retrying a stale snapshot would just conflict again. Any error other
//	than ErrVersionConflict aborts immediately.
//
// Inputs:
//
//	ctx - Cancels the retry loop between attempts.
//	sleep - Wait function, time.Sleep in production. Must not be nil.
//	fn - The read-modify-write cycle to run.
//
// Outputs:
//
//	error - nil on success, the first non-conflict error, or the last
//	        conflict after exhaustion wrapped as a change-store
//	        collaborator failure.
func WithConflictRetry(ctx context.Context, sleep func(time.Duration), fn func() error) error {
	var err error
	for attempt := 1; attempt <= conflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if attempt < conflictRetries {
			sleep(time.Duration(attempt) * conflictBackoff)
		}
	}
	return task.WrapCollaborator("change-store", err)
}
