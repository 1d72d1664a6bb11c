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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/gen"
	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Config configures the orchestrator's retry and timeout policy.
type Config struct {
	// MaxAttempts bounds the retry loop. Default: 5.
	MaxAttempts int

	// BaseBackoff is the unit of linear backoff: the wait before attempt
	// n+1 is n × BaseBackoff. Default: 1s.
	BaseBackoff time.Duration

	// StepTimeout is the initial per-step budget handed to the adapter.
	// Doubled after a timeout-class failure, capped at MaxStepTimeout.
	// Default: 30s.
	StepTimeout time.Duration

	// MaxStepTimeout caps the grown step budget. Default: 2m.
	MaxStepTimeout time.Duration

	// ArtifactBaseURL is the base for fallback artifact references when
	// the adapter produced none. Default: "pipeline://artifacts".
	ArtifactBaseURL string
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		BaseBackoff:     1 * time.Second,
		StepTimeout:     30 * time.Second,
		MaxStepTimeout:  2 * time.Minute,
		ArtifactBaseURL: "pipeline://artifacts",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.MaxStepTimeout <= 0 {
		c.MaxStepTimeout = d.MaxStepTimeout
	}
	if c.ArtifactBaseURL == "" {
		c.ArtifactBaseURL = d.ArtifactBaseURL
	}
	return c
}

// Result is the outcome of a full test run (all attempts).
//
// A failed run is a Result, not an error: the task moves to failed, which
// is a valid terminal state. Run only returns a non-nil error for
// precondition failures (no staged files, concurrent manual run) and for
// cancellation.
type Result struct {
	Success     bool
	Attempts    int
	ArtifactRef string

	// ErrorClass is the classification of the last failed attempt.
	ErrorClass task.ErrorClass

	// Err is the last diagnostic text. Empty on success.
	Err string

	// StagedFiles is the final file set after self-correction. The
	// caller replaces the task's staged set wholesale when it differs.
	StagedFiles []task.StagedFile
}

// SleepFunc waits for d or until ctx is done. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// AttemptFunc observes each completed attempt. Used by the coordinator to
// publish test_attempt events.
type AttemptFunc func(taskID string, attempt task.TestAttempt)

// Orchestrator drives test attempts with bounded retry and
// self-correction.
//
// Thread Safety: safe for concurrent use across tasks. Manual runs are
// serialized per task.
type Orchestrator struct {
	runner    Runner
	generator gen.Generator
	cfg       Config
	logger    *slog.Logger
	sleep     SleepFunc
	onAttempt AttemptFunc

	mu     sync.Mutex
	manual map[string]struct{}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the backoff sleeper. Tests use this so no test
// actually waits.
func WithSleep(s SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithAttemptObserver registers a per-attempt callback.
func WithAttemptObserver(fn AttemptFunc) Option {
	return func(o *Orchestrator) { o.onAttempt = fn }
}

// New creates an orchestrator.
//
// Inputs:
//
//	runner - Test runner adapter. Must not be nil.
//	generator - Code-gen collaborator for no_staged_files self-correction.
//	cfg - Retry policy; zero fields take defaults.
//	logger - Nil falls back to slog.Default().
func New(runner Runner, generator gen.Generator, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		runner:    runner,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		sleep:     defaultSleep,
		manual:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes up to MaxAttempts test attempts for the task's staged
// files.
//
// Description:
//
//	Each attempt materializes the (possibly self-corrected) staged files
//	into a fresh temp workspace, invokes the adapter, and tears the
//	workspace down before the next step — success, failure or panic.
//	Failures are classified; fixable classes apply their correction and
//	retry after linear backoff (attempt × BaseBackoff). unknown aborts
//	immediately. A fallback artifact reference is always produced.
//
// Inputs:
//
//	ctx - Cancels the run between and during attempts.
//	t - Task snapshot. Not mutated.
//	mode - ModeAuto or ModeManual.
//
// Outputs:
//
//	Result - Final outcome, including exhausted-retry failures.
//	error - task.ErrNoStagedFiles before any attempt is consumed,
//	        task.ErrConcurrentManualRun for a second manual run, or the
//	        context error on cancellation.
func (o *Orchestrator) Run(ctx context.Context, t *task.Task, mode Mode) (Result, error) {
	if !t.HasStagedFiles() {
		return Result{}, fmt.Errorf("task %s: %w", t.ID, task.ErrNoStagedFiles)
	}
	if !mode.Valid() {
		return Result{}, fmt.Errorf("unknown test mode %q", mode)
	}

	if mode == ModeManual {
		if !o.acquireManual(t.ID) {
			return Result{}, fmt.Errorf("task %s: %w", t.ID, task.ErrConcurrentManualRun)
		}
		defer o.releaseManual(t.ID)
	}

	ctx, span := tracer.Start(ctx, "testrun.Run", trace.WithAttributes(
		attribute.String("task_id", t.ID),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	files := make([]task.StagedFile, len(t.StagedFiles))
	copy(files, t.StagedFiles)

	stepTimeout := o.cfg.StepTimeout
	result := Result{StagedFiles: files}
	var lastRes RunResult

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.Err = err.Error()
			return result, err
		}

		start := time.Now()
		res, err := o.runAttempt(ctx, files, mode, stepTimeout)
		elapsed := time.Since(start)
		lastRes = res

		if err == nil && res.Passed {
			result.Success = true
			result.ArtifactRef = o.artifactRef(res, t.ID)
			result.StagedFiles = files
			recordAttempt(ctx, "", true, elapsed)
			recordRun(ctx, true, attempt)
			o.observe(t.ID, task.TestAttempt{
				AttemptNumber: attempt,
				ElapsedMs:     elapsed.Milliseconds(),
			})
			o.logger.Info("test run passed",
				"task_id", t.ID, "attempt", attempt, "mode", mode)
			return result, nil
		}

		if err != nil && ctx.Err() != nil {
			// Cancellation, not an adapter failure. The deferred cleanup
			// has already released the workspace and manual lock.
			result.Err = ctx.Err().Error()
			return result, ctx.Err()
		}

		diagnostic := res.Diagnostic
		if err != nil {
			// A timed-out or failed adapter call goes through the same
			// classification path as an in-band failure.
			diagnostic = err.Error()
		}

		class := Classify(diagnostic)
		result.ErrorClass = class
		result.Err = diagnostic
		recordAttempt(ctx, class, false, elapsed)

		o.logger.Warn("test attempt failed",
			"task_id", t.ID, "attempt", attempt,
			"class", class, "diagnostic", diagnostic)

		if !Fixable(class) {
			o.observe(t.ID, task.TestAttempt{
				AttemptNumber: attempt,
				ErrorClass:    class,
				ElapsedMs:     elapsed.Milliseconds(),
			})
			break
		}

		if attempt == o.cfg.MaxAttempts {
			o.observe(t.ID, task.TestAttempt{
				AttemptNumber: attempt,
				ErrorClass:    class,
				ElapsedMs:     elapsed.Milliseconds(),
			})
			break
		}

		fixedFiles, newTimeout, fixApplied, fixErr := o.applyFix(ctx, class, files, t.Prompt, stepTimeout)
		o.observe(t.ID, task.TestAttempt{
			AttemptNumber: attempt,
			ErrorClass:    class,
			FixApplied:    fixApplied,
			ElapsedMs:     elapsed.Milliseconds(),
		})
		if fixErr != nil {
			result.Err = fixErr.Error()
			break
		}
		files = fixedFiles
		stepTimeout = newTimeout

		if err := o.sleep(ctx, time.Duration(attempt)*o.cfg.BaseBackoff); err != nil {
			result.Err = err.Error()
			return result, err
		}
	}

	result.Success = false
	result.ArtifactRef = o.artifactRef(lastRes, t.ID)
	result.StagedFiles = files
	recordRun(ctx, false, result.Attempts)
	return result, nil
}

// runAttempt materializes one workspace, invokes the adapter and
// guarantees teardown.
func (o *Orchestrator) runAttempt(ctx context.Context, files []task.StagedFile, mode Mode, stepTimeout time.Duration) (RunResult, error) {
	ws, err := Materialize(files)
	if err != nil {
		return RunResult{}, err
	}
	defer ws.Cleanup()

	// Bound the whole adapter call; the adapter gets the step budget
	// plus slack for its own setup and teardown.
	attemptCtx, cancel := context.WithTimeout(ctx, stepTimeout+10*time.Second)
	defer cancel()

	return o.runner.Run(attemptCtx, RunRequest{
		ScriptRef: ws.Dir,
		Mode:      mode,
		Timeout:   stepTimeout,
	})
}

// applyFix runs the self-correction strategy for a fixable class.
func (o *Orchestrator) applyFix(ctx context.Context, class task.ErrorClass, files []task.StagedFile, prompt string, stepTimeout time.Duration) ([]task.StagedFile, time.Duration, bool, error) {
	switch class {
	case task.ErrClassSelectorNotFound:
		fixed, changed := RewriteSelectors(files)
		return fixed, stepTimeout, changed, nil

	case task.ErrClassNoStagedFiles:
		if o.generator == nil {
			return files, stepTimeout, false, fmt.Errorf("no code generator configured for regeneration")
		}
		hints := make([]string, 0, len(files))
		for _, f := range files {
			hints = append(hints, f.Path)
		}
		regenerated, err := o.generator.Generate(ctx, prompt, hints)
		if err != nil {
			return files, stepTimeout, false, task.WrapCollaborator("code-generator", err)
		}
		return regenerated, stepTimeout, true, nil

	case task.ErrClassTimeout:
		next := stepTimeout * 2
		if next > o.cfg.MaxStepTimeout {
			next = o.cfg.MaxStepTimeout
		}
		return files, next, true, nil

	default:
		return files, stepTimeout, false, nil
	}
}

// artifactRef prefers the adapter's reference, falling back to a stable
// pipeline-generated one so the caller always has something to show.
func (o *Orchestrator) artifactRef(res RunResult, taskID string) string {
	if res.ArtifactRef != "" {
		return res.ArtifactRef
	}
	return fmt.Sprintf("%s/tasks/%s/latest", o.cfg.ArtifactBaseURL, taskID)
}

func (o *Orchestrator) observe(taskID string, attempt task.TestAttempt) {
	if o.onAttempt != nil {
		o.onAttempt(taskID, attempt)
	}
}

func (o *Orchestrator) acquireManual(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, active := o.manual[taskID]; active {
		return false
	}
	o.manual[taskID] = struct{}{}
	return true
}

func (o *Orchestrator) releaseManual(taskID string) {
	o.mu.Lock()
	delete(o.manual, taskID)
	o.mu.Unlock()
}

// ManualRunActive reports whether a manual run is in flight for the task.
func (o *Orchestrator) ManualRunActive(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, active := o.manual[taskID]
	return active
}
