// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate drives human approval decisions over a task's proposals.
//
// The gate owns the commit/rollback side effect ordering: the external
// applier runs before any status is persisted, so a failed apply leaves
// both the proposal and its parent task untouched. Approving the last
// pending proposal transitions the task to applied; a single denial is
// terminal for the whole task regardless of other pending proposals.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/events"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/store"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Config holds gate policy knobs.
type Config struct {
	// RequireOldestPending rejects any bulk-approve batch that omits the
	// oldest pending proposal of a touched task. The rule's origin is a
	// business policy, so it is a knob rather than hard-coded.
	RequireOldestPending bool
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{RequireOldestPending: true}
}

// Decision is the outcome of one approve or deny: the updated proposal and
// the parent task as persisted after the decision.
type Decision struct {
	Proposal *task.Proposal `json:"proposal"`
	Task     *task.Task     `json:"task"`
}

// Gate applies approval decisions to proposals and their parent tasks.
//
// Thread Safety: safe for concurrent use; conflicting decisions are
// serialized by the store's compare-and-swap versioning.
type Gate struct {
	store    store.Store
	applier  Applier
	notifier events.Notifier
	machine  *task.StateMachine
	cfg      Config
	logger   *slog.Logger

	nowFn func() time.Time
	sleep func(time.Duration)
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock injects the time source used for UpdatedAt stamps.
func WithClock(nowFn func() time.Time) Option {
	return func(g *Gate) { g.nowFn = nowFn }
}

// WithConflictSleep injects the wait used between version-conflict retries.
func WithConflictSleep(sleep func(time.Duration)) Option {
	return func(g *Gate) { g.sleep = sleep }
}

// New creates a Gate.
//
// Inputs:
//
//	st - Durable task/proposal storage. Must not be nil.
//	applier - Apply/rollback collaborator. Must not be nil.
//	notifier - Event sink; nil means no events are published.
//	cfg - Policy knobs, usually DefaultConfig().
//	logger - Structured logger; nil falls back to slog.Default().
func New(st store.Store, applier Applier, notifier events.Notifier, cfg Config, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	g := &Gate{
		store:    st,
		applier:  applier,
		notifier: notifier,
		machine:  task.NewStateMachine(),
		cfg:      cfg,
		logger:   logger,
		nowFn:    time.Now,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Approve approves one proposal.
//
// Description:
//
//	Requires the proposal to be pending and the parent task to be in
//	pending_approval. The external apply runs first; only after it
//	succeeds are the proposal and task statuses persisted, so an apply
//	failure leaves both unchanged. Approving the last pending proposal
//	transitions the task to applied. Re-approving an approved proposal is
//	a no-op success.
//
// Outputs:
//
//	*Decision - The persisted proposal and task.
//	error - task.ErrNotFound, task.ErrInvalidTransition for a denied
//	        proposal, task.ErrPreconditionFailed when the parent is not
//	        awaiting approval, or a wrapped collaborator failure.
func (g *Gate) Approve(ctx context.Context, proposalID string) (*Decision, error) {
	var dec *Decision
	err := store.WithConflictRetry(ctx, g.sleep, func() error {
		var ferr error
		dec, ferr = g.approveOnce(ctx, proposalID)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return dec, nil
}

func (g *Gate) approveOnce(ctx context.Context, proposalID string) (*Decision, error) {
	p, err := g.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	t, err := g.store.GetTask(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case task.ProposalApproved:
		// At-least-once delivery from the UI layer.
		return &Decision{Proposal: p, Task: t}, nil
	case task.ProposalDenied:
		return nil, fmt.Errorf("%w: proposal %s already denied", task.ErrInvalidTransition, p.ID)
	}

	if t.Status != task.StatusPendingApproval {
		return nil, fmt.Errorf("%w: task %s is %s, not awaiting approval", task.ErrPreconditionFailed, t.ID, t.Status)
	}

	// Side effect before any status write.
	if err := g.applier.Apply(ctx, t); err != nil {
		g.logger.ErrorContext(ctx, "apply failed, statuses unchanged",
			"task_id", t.ID, "proposal_id", p.ID, "error", err)
		return nil, task.WrapCollaborator("apply-changes", err)
	}

	now := g.nowFn()
	updated := *p
	updated.Status = task.ProposalApproved
	updated.UpdatedAt = now
	if err := g.store.UpdateProposal(ctx, &updated); err != nil {
		return nil, err
	}

	last, err := g.lastPendingResolved(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	current := t
	if last {
		next, err := g.machine.Transition(t, task.StatusApplied)
		if err != nil {
			return nil, err
		}
		if err := g.store.UpdateTask(ctx, next); err != nil {
			return nil, err
		}
		current = next
		g.publishTaskStatus(current)
	}

	g.logger.InfoContext(ctx, "proposal approved",
		"task_id", t.ID, "proposal_id", p.ID, "task_status", current.Status)
	g.publishDecision(&updated, "approved")
	recordDecision(ctx, "approve")
	return &Decision{Proposal: &updated, Task: current}, nil
}

// Deny denies one proposal and terminates the parent task.
//
// Description:
//
//	Requires the proposal to be pending. Rollback of the task's staged
//	changes runs before any status write, and only once per task: further
//	denials of the task's remaining pending proposals skip the rollback.
//	A rollback failure leaves both entities unchanged. Re-denying a denied
//	proposal is a no-op success.
func (g *Gate) Deny(ctx context.Context, proposalID string) (*Decision, error) {
	var dec *Decision
	err := store.WithConflictRetry(ctx, g.sleep, func() error {
		var ferr error
		dec, ferr = g.denyOnce(ctx, proposalID)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return dec, nil
}

func (g *Gate) denyOnce(ctx context.Context, proposalID string) (*Decision, error) {
	p, err := g.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	t, err := g.store.GetTask(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case task.ProposalDenied:
		return &Decision{Proposal: p, Task: t}, nil
	case task.ProposalApproved:
		return nil, fmt.Errorf("%w: proposal %s already approved", task.ErrInvalidTransition, p.ID)
	}

	// A denial after the task is already denied (bulk deny past the first
	// id) only settles the remaining proposal records.
	if t.Status != task.StatusPendingApproval && t.Status != task.StatusDenied {
		return nil, fmt.Errorf("%w: task %s is %s, not awaiting approval", task.ErrPreconditionFailed, t.ID, t.Status)
	}

	if t.Status == task.StatusPendingApproval {
		if err := g.applier.Rollback(ctx, t); err != nil {
			g.logger.ErrorContext(ctx, "rollback failed, statuses unchanged",
				"task_id", t.ID, "proposal_id", p.ID, "error", err)
			return nil, task.WrapCollaborator("rollback-changes", err)
		}
	}

	now := g.nowFn()
	updated := *p
	updated.Status = task.ProposalDenied
	updated.UpdatedAt = now
	if err := g.store.UpdateProposal(ctx, &updated); err != nil {
		return nil, err
	}

	current := t
	if t.Status == task.StatusPendingApproval {
		next, err := g.machine.Transition(t, task.StatusDenied)
		if err != nil {
			return nil, err
		}
		if err := g.store.UpdateTask(ctx, next); err != nil {
			return nil, err
		}
		current = next
		g.publishTaskStatus(current)
	}

	g.logger.InfoContext(ctx, "proposal denied",
		"task_id", t.ID, "proposal_id", p.ID)
	g.publishDecision(&updated, "denied")
	recordDecision(ctx, "deny")
	return &Decision{Proposal: &updated, Task: current}, nil
}

// BulkApprove approves proposals in submission order.
//
// Description:
//
//	Validation is all-or-nothing and runs before any side effect: every id
//	must resolve to a proposal that is pending or already approved, and
//	when RequireOldestPending is set each touched task's oldest pending
//	proposal must appear in the batch. A validation failure rejects the
//	whole batch with zero status changes and zero apply calls.
func (g *Gate) BulkApprove(ctx context.Context, ids []string) ([]*Decision, error) {
	if err := g.validateBulkApprove(ctx, ids); err != nil {
		return nil, err
	}
	decisions := make([]*Decision, 0, len(ids))
	for _, id := range ids {
		dec, err := g.Approve(ctx, id)
		if err != nil {
			return decisions, err
		}
		decisions = append(decisions, dec)
	}
	return decisions, nil
}

// BulkDeny denies proposals in submission order. The first denial per task
// terminates that task; the rest settle proposal records only.
func (g *Gate) BulkDeny(ctx context.Context, ids []string) ([]*Decision, error) {
	for _, id := range ids {
		p, err := g.store.GetProposal(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("bulk deny validation: %w", err)
		}
		if p.Status == task.ProposalApproved {
			return nil, fmt.Errorf("%w: proposal %s already approved", task.ErrInvalidTransition, p.ID)
		}
	}
	decisions := make([]*Decision, 0, len(ids))
	for _, id := range ids {
		dec, err := g.Deny(ctx, id)
		if err != nil {
			return decisions, err
		}
		decisions = append(decisions, dec)
	}
	return decisions, nil
}

func (g *Gate) validateBulkApprove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: empty batch", task.ErrPreconditionFailed)
	}

	inBatch := make(map[string]bool, len(ids))
	taskIDs := make(map[string]bool)
	for _, id := range ids {
		p, err := g.store.GetProposal(ctx, id)
		if err != nil {
			return fmt.Errorf("bulk approve validation: %w", err)
		}
		if p.Status == task.ProposalDenied {
			return fmt.Errorf("%w: proposal %s already denied", task.ErrInvalidTransition, p.ID)
		}
		inBatch[p.ID] = true
		taskIDs[p.TaskID] = true
	}

	if !g.cfg.RequireOldestPending {
		return nil
	}
	for taskID := range taskIDs {
		oldest, err := g.oldestPending(ctx, taskID)
		if err != nil {
			return err
		}
		if oldest != nil && !inBatch[oldest.ID] {
			return fmt.Errorf("%w: batch omits oldest pending proposal %s for task %s",
				task.ErrPreconditionFailed, oldest.ID, taskID)
		}
	}
	return nil
}

// oldestPending returns the task's oldest pending proposal, or nil when
// none remain. Relies on the store listing proposals oldest first.
func (g *Gate) oldestPending(ctx context.Context, taskID string) (*task.Proposal, error) {
	props, err := g.store.ListProposalsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for _, p := range props {
		if p.Status == task.ProposalPending {
			return p, nil
		}
	}
	return nil, nil
}

func (g *Gate) lastPendingResolved(ctx context.Context, taskID string) (bool, error) {
	oldest, err := g.oldestPending(ctx, taskID)
	if err != nil {
		return false, err
	}
	return oldest == nil, nil
}

func (g *Gate) publishDecision(p *task.Proposal, decision string) {
	g.notifier.Publish(events.Event{
		Kind:      events.KindProposalDecided,
		SubjectID: p.TaskID,
		Payload: map[string]any{
			"proposal_id": p.ID,
			"decision":    decision,
			"file":        p.File,
		},
	})
}

func (g *Gate) publishTaskStatus(t *task.Task) {
	g.notifier.Publish(events.Event{
		Kind:      events.KindTaskStatus,
		SubjectID: t.ID,
		Payload:   map[string]any{"status": string(t.Status)},
	})
}
