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
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/gen"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// scriptedRunner replays a fixed sequence of results and records every
// request it saw.
type scriptedRunner struct {
	mu       sync.Mutex
	script   []RunResult
	requests []RunRequest
	// workspaces observed per call, so tests can assert cleanup.
	workspaces []string
}

func (r *scriptedRunner) Run(_ context.Context, req RunRequest) (RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	r.workspaces = append(r.workspaces, req.ScriptRef)
	idx := len(r.requests) - 1
	if idx >= len(r.script) {
		idx = len(r.script) - 1
	}
	return r.script[idx], nil
}

func noSleep(t *testing.T) (SleepFunc, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	return func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}, &slept
}

func testTask() *task.Task {
	tk := task.NewTask("add a deals filter", time.Now())
	tk.StagedFiles = []task.StagedFile{
		{Path: "src/deals/filter.js", Content: "export const f = () => {}"},
		{Path: "tests/filter.test.js", Content: "click('#submit-btn')"},
	}
	return tk
}

func TestRun_NoStagedFiles_NeverInvokesRunner(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{{Passed: true}}}
	o := New(runner, nil, Config{}, nil)

	tk := task.NewTask("x", time.Now())
	_, err := o.Run(context.Background(), tk, ModeAuto)
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrNoStagedFiles))
	assert.Empty(t, runner.requests, "adapter must not be invoked")
}

func TestRun_FirstAttemptPasses(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: true, ArtifactRef: "http://runner/report/1"},
	}}
	sleep, slept := noSleep(t)
	o := New(runner, nil, Config{}, nil, WithSleep(sleep))

	res, err := o.Run(context.Background(), testTask(), ModeAuto)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "http://runner/report/1", res.ArtifactRef)
	assert.Empty(t, *slept, "no backoff after a pass")
}

func TestRun_SelectorFailuresExhaustWithLinearBackoff(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: false, Diagnostic: "selector not found: #submit-btn"},
	}}
	sleep, slept := noSleep(t)

	var attempts []task.TestAttempt
	o := New(runner, nil, Config{BaseBackoff: time.Second}, nil,
		WithSleep(sleep),
		WithAttemptObserver(func(_ string, a task.TestAttempt) {
			attempts = append(attempts, a)
		}))

	res, err := o.Run(context.Background(), testTask(), ModeAuto)
	require.NoError(t, err, "exhausted retries are a result, not an error")
	assert.False(t, res.Success)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, task.ErrClassSelectorNotFound, res.ErrorClass)
	assert.NotEmpty(t, res.ArtifactRef, "fallback artifact ref must be produced")

	require.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second,
	}, *slept, "backoff must be linear and strictly increasing")

	require.Len(t, attempts, 5)
	assert.True(t, attempts[0].FixApplied, "selector rewrite should apply on first failure")
}

func TestRun_UnknownClassAbortsImmediately(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: false, Diagnostic: "TypeError: boom"},
	}}
	sleep, slept := noSleep(t)
	o := New(runner, nil, Config{}, nil, WithSleep(sleep))

	res, err := o.Run(context.Background(), testTask(), ModeAuto)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts, "unknown must abort with attempts remaining")
	assert.Equal(t, task.ErrClassUnknown, res.ErrorClass)
	assert.Empty(t, *slept)
}

func TestRun_TimeoutGrowsStepBudget(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: false, Diagnostic: "navigation timeout exceeded"},
		{Passed: false, Diagnostic: "navigation timeout exceeded"},
		{Passed: true},
	}}
	sleep, _ := noSleep(t)
	o := New(runner, nil, Config{StepTimeout: 10 * time.Second}, nil, WithSleep(sleep))

	res, err := o.Run(context.Background(), testTask(), ModeAuto)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)

	require.Len(t, runner.requests, 3)
	assert.Equal(t, 10*time.Second, runner.requests[0].Timeout)
	assert.Equal(t, 20*time.Second, runner.requests[1].Timeout)
	assert.Equal(t, 40*time.Second, runner.requests[2].Timeout)
}

func TestRun_RegeneratesOnNoStagedFiles(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: false, Diagnostic: "no staged files present"},
		{Passed: true},
	}}
	sleep, _ := noSleep(t)

	regenerated := []task.StagedFile{
		{Path: "src/new.js", Content: "regenerated"},
		{Path: "tests/new.test.js", Content: "test"},
	}
	var genPrompt string
	var genHints []string
	generator := gen.GeneratorFunc(func(_ context.Context, prompt string, hints []string) ([]task.StagedFile, error) {
		genPrompt = prompt
		genHints = hints
		return regenerated, nil
	})

	o := New(runner, generator, Config{}, nil, WithSleep(sleep))

	tk := testTask()
	res, err := o.Run(context.Background(), tk, ModeAuto)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, tk.Prompt, genPrompt)
	assert.Equal(t, []string{"src/deals/filter.js", "tests/filter.test.js"}, genHints)
	assert.Equal(t, regenerated, res.StagedFiles, "result must carry the regenerated set")
}

func TestRun_GeneratorFailureStopsRun(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: false, Diagnostic: "no staged files present"},
	}}
	sleep, _ := noSleep(t)
	generator := gen.GeneratorFunc(func(context.Context, string, []string) ([]task.StagedFile, error) {
		return nil, errors.New("llm unavailable")
	})
	o := New(runner, generator, Config{}, nil, WithSleep(sleep))

	res, err := o.Run(context.Background(), testTask(), ModeAuto)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Err, "code-generator")
}

func TestRun_WorkspacesCleanedOnEveryPath(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: false, Diagnostic: "selector not found"},
		{Passed: true},
	}}
	sleep, _ := noSleep(t)
	o := New(runner, nil, Config{}, nil, WithSleep(sleep))

	_, err := o.Run(context.Background(), testTask(), ModeAuto)
	require.NoError(t, err)

	require.Len(t, runner.workspaces, 2)
	assert.NotEqual(t, runner.workspaces[0], runner.workspaces[1],
		"each attempt gets a fresh workspace")
	for _, dir := range runner.workspaces {
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr), "workspace %s must be removed", dir)
	}
}

func TestRun_ManualRunsSerializedPerTask(t *testing.T) {
	blockRunner := make(chan struct{})
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, _ RunRequest) (RunResult, error) {
		close(started)
		<-blockRunner
		return RunResult{Passed: true}, nil
	})
	o := New(runner, nil, Config{}, nil)

	tk := testTask()
	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), tk, ModeManual)
		done <- err
	}()

	<-started
	assert.True(t, o.ManualRunActive(tk.ID))

	_, err := o.Run(context.Background(), tk, ModeManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrConcurrentManualRun))

	// A different task is not blocked.
	other := testTask()
	assert.False(t, o.ManualRunActive(other.ID))

	close(blockRunner)
	require.NoError(t, <-done)
	assert.False(t, o.ManualRunActive(tk.ID), "lock must be released after the run")
}

func TestRun_CancellationReleasesManualLock(t *testing.T) {
	runner := &scriptedRunner{script: []RunResult{
		{Passed: false, Diagnostic: "selector not found"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	o := New(runner, nil, Config{}, nil,
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	tk := testTask()
	_, err := o.Run(ctx, tk, ModeManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, o.ManualRunActive(tk.ID), "cancelled run must release the lock")
}
