// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := task.NewTask("add export button", time.Now())
	tk.StagedFiles = []task.StagedFile{{Path: "a.js", Content: "x"}}
	require.NoError(t, s.CreateTask(ctx, tk))
	assert.Equal(t, uint64(1), tk.Version)

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, task.StatusCreated, got.Status)
	assert.Len(t, got.StagedFiles, 1)
}

func TestGetTask_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTask(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrNotFound))
}

func TestUpdateTask_VersionConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := task.NewTask("x", time.Now())
	require.NoError(t, s.CreateTask(ctx, tk))

	// Two readers load the same version.
	a, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	b, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)

	a.Status = task.StatusStaged
	require.NoError(t, s.UpdateTask(ctx, a))
	assert.Equal(t, uint64(2), a.Version)

	b.Status = task.StatusDeleted
	err = s.UpdateTask(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	// The first writer's state won.
	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusStaged, got.Status)
}

func TestWithConflictRetry(t *testing.T) {
	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	calls := 0
	err := WithConflictRetry(context.Background(), sleep, func() error {
		calls++
		if calls < 3 {
			return ErrVersionConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, slept)

	// Exhaustion surfaces the conflict as a change-store failure.
	calls = 0
	err = WithConflictRetry(context.Background(), sleep, func() error {
		calls++
		return ErrVersionConflict
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict))
	var collab *task.CollaboratorError
	require.True(t, errors.As(err, &collab))
	assert.Equal(t, "change-store", collab.Collaborator)
	assert.Equal(t, task.KindExternalCollaboratorFailure, task.Kind(err))
	assert.Equal(t, 3, calls)

	// Non-conflict errors abort immediately.
	calls = 0
	boom := errors.New("boom")
	err = WithConflictRetry(context.Background(), sleep, func() error {
		calls++
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, calls)
}

func TestListTasks_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := task.NewTask("first", time.Now().Add(-time.Hour))
	newer := task.NewTask("second", time.Now())
	require.NoError(t, s.CreateTask(ctx, older))
	require.NoError(t, s.CreateTask(ctx, newer))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, newer.ID, tasks[0].ID)
	assert.Equal(t, older.ID, tasks[1].ID)
}

func TestProposalsByTask_OldestFirstAndCascadeDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := task.NewTask("x", time.Now())
	require.NoError(t, s.CreateTask(ctx, tk))

	p1 := task.NewProposal(tk.ID, "a.js", "aaa", time.Now().Add(-time.Minute))
	p2 := task.NewProposal(tk.ID, "b.js", "bbb", time.Now())
	require.NoError(t, s.CreateProposal(ctx, p2))
	require.NoError(t, s.CreateProposal(ctx, p1))

	props, err := s.ListProposalsByTask(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, p1.ID, props[0].ID, "oldest proposal must sort first")

	require.NoError(t, s.DeleteTask(ctx, tk.ID))

	_, err = s.GetTask(ctx, tk.ID)
	assert.True(t, errors.Is(err, task.ErrNotFound))
	_, err = s.GetProposal(ctx, p1.ID)
	assert.True(t, errors.Is(err, task.ErrNotFound))

	props, err = s.ListProposalsByTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestDeleteProposalsByTask_KeepsTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := task.NewTask("x", time.Now())
	require.NoError(t, s.CreateTask(ctx, tk))

	other := task.NewTask("y", time.Now())
	require.NoError(t, s.CreateTask(ctx, other))

	require.NoError(t, s.CreateProposal(ctx, task.NewProposal(tk.ID, "a.js", "aaa", time.Now())))
	require.NoError(t, s.CreateProposal(ctx, task.NewProposal(tk.ID, "b.js", "bbb", time.Now())))
	kept := task.NewProposal(other.ID, "c.js", "ccc", time.Now())
	require.NoError(t, s.CreateProposal(ctx, kept))

	require.NoError(t, s.DeleteProposalsByTask(ctx, tk.ID))

	props, err := s.ListProposalsByTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, props)

	_, err = s.GetTask(ctx, tk.ID)
	require.NoError(t, err, "the task record must survive the wipe")

	props, err = s.ListProposalsByTask(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, kept.ID, props[0].ID)
}

func TestProposalUpdate_CAS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := task.NewProposal("t1", "a.js", "aaa", time.Now())
	require.NoError(t, s.CreateProposal(ctx, p))

	stale := *p
	p.Status = task.ProposalApproved
	require.NoError(t, s.UpdateProposal(ctx, p))

	stale.Status = task.ProposalDenied
	err := s.UpdateProposal(ctx, &stale)
	assert.True(t, errors.Is(err, ErrVersionConflict))
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := task.NewTask("x", time.Now())
	require.NoError(t, s.CreateTask(ctx, tk))
	require.NoError(t, s.CreateProposal(ctx, task.NewProposal(tk.ID, "a.js", "a", time.Now())))

	require.NoError(t, s.Clear(ctx))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
