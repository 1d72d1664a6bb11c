// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator is the pipeline façade: the only component external
// callers interact with.
//
// It sequences state-machine transitions, invokes the test orchestrator and
// the proposal gate, and deduplicates externally retried submissions. A
// delete cancels any in-flight test run for the task before the task record
// is touched; the cancelled run releases its workspace and locks on the way
// out and its result is discarded.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/events"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/gen"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/store"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/testrun"
)

var tracer = otel.Tracer("pipeline.coordinator")

// Coordinator drives the task lifecycle end to end.
//
// Thread Safety: safe for concurrent use. Conflicting writes to one task
// are serialized by the store's compare-and-swap versioning; in-flight
// test runs are tracked so deletes can cancel them.
type Coordinator struct {
	store     store.Store
	machine   *task.StateMachine
	orch      *testrun.Orchestrator
	generator gen.Generator
	notifier  events.Notifier
	logger    *slog.Logger

	dedup *dedupWindow
	runs  *runRegistry

	nowFn func() time.Time
	sleep func(time.Duration)
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source used for entity timestamps and the
// submission dedup window.
func WithClock(nowFn func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFn = nowFn
		c.dedup = newDedupWindow(dedupTTL, nowFn)
		c.machine = task.NewStateMachineAt(nowFn)
	}
}

// WithConflictSleep injects the wait used between version-conflict retries.
func WithConflictSleep(sleep func(time.Duration)) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// New creates a Coordinator.
//
// Inputs:
//
//	st - Durable task/proposal storage. Must not be nil.
//	orch - Test orchestrator. Must not be nil.
//	generator - Code-gen collaborator; nil disables staging on submit.
//	notifier - Event sink; nil means no events are published.
//	logger - Structured logger; nil falls back to slog.Default().
func New(st store.Store, orch *testrun.Orchestrator, generator gen.Generator, notifier events.Notifier, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	c := &Coordinator{
		store:     st,
		machine:   task.NewStateMachine(),
		orch:      orch,
		generator: generator,
		notifier:  notifier,
		logger:    logger,
		dedup:     newDedupWindow(dedupTTL, time.Now),
		runs:      newRunRegistry(),
		nowFn:     time.Now,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit creates a task from a natural-language prompt and, when a code
// generator is configured, stages candidate files for it.
//
// Description:
//
//	Empty or whitespace-only prompts are rejected. A repeated idempotency
//	key within the dedup window returns ErrDuplicate without creating
//	anything. When staging fails the created task is returned alongside
//	the wrapped generator error so the caller can retry the staging step.
//
// Outputs:
//
//	*task.Task - The created (and possibly staged) task.
//	error - task.ErrInvalidPrompt, task.ErrDuplicate, or a wrapped
//	        collaborator failure from storage or generation.
func (c *Coordinator) Submit(ctx context.Context, prompt, idempotencyKey string) (*task.Task, error) {
	ctx, span := tracer.Start(ctx, "coordinator.Submit")
	defer span.End()

	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", task.ErrInvalidPrompt)
	}
	if c.dedup.Seen(idempotencyKey) {
		return nil, fmt.Errorf("%w: idempotency key %q", task.ErrDuplicate, idempotencyKey)
	}

	t := task.NewTask(prompt, c.nowFn())
	if err := c.store.CreateTask(ctx, t); err != nil {
		return nil, task.WrapCollaborator("change-store", err)
	}
	// The key is remembered only once the task is durably created, so a
	// failed create leaves the client's retry free to succeed.
	c.dedup.Record(idempotencyKey)
	span.SetAttributes(attribute.String("task_id", t.ID))
	c.publish(events.Event{
		Kind:      events.KindTaskCreated,
		SubjectID: t.ID,
		Payload:   map[string]any{"prompt": prompt},
	})
	c.logger.InfoContext(ctx, "task submitted", "task_id", t.ID)

	if c.generator == nil {
		return c.reload(ctx, t.ID)
	}

	files, err := c.generator.Generate(ctx, prompt, nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "staging failed on submit",
			"task_id", t.ID, "error", err)
		created, rerr := c.reload(ctx, t.ID)
		if rerr != nil {
			return nil, rerr
		}
		return created, task.WrapCollaborator("code-generator", err)
	}
	return c.Stage(ctx, t.ID, files)
}

// Stage attaches a candidate change set to a created task and transitions
// it to staged. The file set replaces any previous one wholesale.
func (c *Coordinator) Stage(ctx context.Context, taskID string, files []task.StagedFile) (*task.Task, error) {
	var out *task.Task
	err := store.WithConflictRetry(ctx, c.sleep, func() error {
		t, err := c.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}

		next := t.Clone()
		next.StagedFiles = files
		next.NewContent = make(map[string]string, len(files))
		next.ProposedChanges = make([]string, 0, len(files))
		for _, f := range files {
			next.NewContent[f.Path] = f.Content
			next.ProposedChanges = append(next.ProposedChanges, "update "+f.Path)
		}

		staged, err := c.machine.Transition(next, task.StatusStaged)
		if err != nil {
			return err
		}
		if err := c.store.UpdateTask(ctx, staged); err != nil {
			return err
		}
		out = staged
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.publishStatus(out)
	c.logger.InfoContext(ctx, "task staged",
		"task_id", out.ID, "files", len(out.StagedFiles))
	return out, nil
}

// RunTest executes the test orchestrator for a task and advances the state
// machine from the result.
//
// Description:
//
//	Requires the task to be staged, tested or pending_approval. The task
//	moves to testing for the duration of the run. On success it advances
//	to tested and then pending_approval with one proposal per staged
//	file; a re-test from pending_approval replaces the previous proposal
//	set wholesale. On exhausted retries the task lands in failed with the
//	fallback artifact reference recorded. A delete during the run cancels
//	it; the run's result is discarded and the context error is returned.
func (c *Coordinator) RunTest(ctx context.Context, taskID string, mode testrun.Mode) (*task.Task, error) {
	ctx, span := tracer.Start(ctx, "coordinator.RunTest", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	t, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case task.StatusStaged, task.StatusTested, task.StatusPendingApproval:
	default:
		return nil, fmt.Errorf("%w: task %s is %s, not testable", task.ErrPreconditionFailed, t.ID, t.Status)
	}
	if mode == testrun.ModeManual && c.orch.ManualRunActive(taskID) {
		return nil, fmt.Errorf("task %s: %w", taskID, task.ErrConcurrentManualRun)
	}

	testing, err := c.transitionAndSave(ctx, taskID, task.StatusTesting, nil)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !c.runs.track(taskID, cancel) {
		return nil, fmt.Errorf("task %s: %w", taskID, task.ErrConcurrentManualRun)
	}
	defer c.runs.untrack(taskID)

	res, runErr := c.orch.Run(runCtx, testing, mode)
	if cerr := runCtx.Err(); cerr != nil {
		// Cancelled by a delete or by the caller. The task record is no
		// longer ours to advance; the result is discarded.
		c.logger.InfoContext(ctx, "test run cancelled, result discarded",
			"task_id", taskID)
		return nil, cerr
	}
	if runErr != nil {
		return nil, runErr
	}

	if res.Success {
		return c.armGate(ctx, taskID, res)
	}
	return c.failTask(ctx, taskID, res)
}

// armGate advances a passing task to tested then pending_approval and
// creates one pending proposal per staged file. Proposals left over from an
// earlier round are removed first: a re-test supersedes them.
func (c *Coordinator) armGate(ctx context.Context, taskID string, res testrun.Result) (*task.Task, error) {
	tested, err := c.transitionAndSave(ctx, taskID, task.StatusTested, func(t *task.Task) {
		t.StagedFiles = res.StagedFiles
		t.TestURL = res.ArtifactRef
		if t.NewContent == nil {
			t.NewContent = make(map[string]string, len(res.StagedFiles))
		}
		for _, f := range res.StagedFiles {
			t.NewContent[f.Path] = f.Content
		}
	})
	if err != nil {
		return nil, err
	}

	if err := c.store.DeleteProposalsByTask(ctx, tested.ID); err != nil {
		return nil, task.WrapCollaborator("change-store", err)
	}

	now := c.nowFn()
	for _, f := range tested.StagedFiles {
		p := task.NewProposal(tested.ID, f.Path, f.Content, now)
		if err := c.store.CreateProposal(ctx, p); err != nil {
			return nil, task.WrapCollaborator("change-store", err)
		}
		c.publish(events.Event{
			Kind:      events.KindProposalCreated,
			SubjectID: tested.ID,
			Payload:   map[string]any{"proposal_id": p.ID, "file": p.File},
		})
	}

	pending, err := c.transitionAndSave(ctx, taskID, task.StatusPendingApproval, nil)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "task awaiting approval",
		"task_id", pending.ID, "proposals", len(pending.StagedFiles),
		"attempts", res.Attempts)
	return pending, nil
}

// failTask records an exhausted or aborted test run as the failed terminal
// state. The fallback artifact reference is always present.
func (c *Coordinator) failTask(ctx context.Context, taskID string, res testrun.Result) (*task.Task, error) {
	failed, err := c.transitionAndSave(ctx, taskID, task.StatusFailed, func(t *task.Task) {
		t.TestURL = res.ArtifactRef
		t.TestInstructions = res.Err
	})
	if err != nil {
		return nil, err
	}
	c.logger.WarnContext(ctx, "task failed testing",
		"task_id", taskID, "attempts", res.Attempts,
		"class", res.ErrorClass, "artifact", res.ArtifactRef)
	return failed, nil
}

// Delete cancels any in-flight test run for the task, marks it deleted and
// hard-removes it and its proposals.
//
// Description:
//
//	Deletion is legal from every state. The cancel-first ordering is the
//	documented policy for the delete-during-test race: the run never
//	completes against a removed task, and its workspace and manual lock
//	are released by the orchestrator on the way out.
func (c *Coordinator) Delete(ctx context.Context, taskID string) error {
	c.runs.cancel(taskID)

	t, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	deleted, err := c.machine.Transition(t, task.StatusDeleted)
	if err != nil {
		return err
	}
	c.publishStatus(deleted)

	if err := c.store.DeleteTask(ctx, taskID); err != nil {
		return task.WrapCollaborator("change-store", err)
	}
	if f, ok := c.notifier.(interface{ Forget(string) }); ok {
		f.Forget(taskID)
	}
	c.logger.InfoContext(ctx, "task deleted", "task_id", taskID)
	return nil
}

// ClearAll cancels every in-flight run and removes all tasks and
// proposals.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.runs.cancelAll()
	if err := c.store.Clear(ctx); err != nil {
		return task.WrapCollaborator("change-store", err)
	}
	c.publish(events.Event{
		Kind:      events.KindTasksCleared,
		SubjectID: "pipeline",
	})
	c.logger.InfoContext(ctx, "all tasks cleared")
	return nil
}

// Get returns one task.
func (c *Coordinator) Get(ctx context.Context, taskID string) (*task.Task, error) {
	return c.store.GetTask(ctx, taskID)
}

// List returns all tasks, newest first.
func (c *Coordinator) List(ctx context.Context) ([]*task.Task, error) {
	return c.store.ListTasks(ctx)
}

// RunActive reports whether a test run is in flight for the task.
func (c *Coordinator) RunActive(taskID string) bool {
	return c.runs.active(taskID)
}

// transitionAndSave re-reads the task, applies mutate (optional), runs the
// state transition and persists the result, retrying version conflicts.
func (c *Coordinator) transitionAndSave(ctx context.Context, taskID string, to task.Status, mutate func(*task.Task)) (*task.Task, error) {
	var out *task.Task
	err := store.WithConflictRetry(ctx, c.sleep, func() error {
		t, err := c.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		work := t.Clone()
		if mutate != nil {
			mutate(work)
		}
		next, err := c.machine.Transition(work, to)
		if err != nil {
			return err
		}
		if err := c.store.UpdateTask(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publishStatus(out)
	return out, nil
}

func (c *Coordinator) reload(ctx context.Context, taskID string) (*task.Task, error) {
	return c.store.GetTask(ctx, taskID)
}

func (c *Coordinator) publish(e events.Event) {
	c.notifier.Publish(e)
}

func (c *Coordinator) publishStatus(t *task.Task) {
	c.publish(events.Event{
		Kind:      events.KindTaskStatus,
		SubjectID: t.ID,
		Payload:   map[string]any{"status": string(t.Status)},
	})
}
