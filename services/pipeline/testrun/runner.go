// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testrun drives test execution attempts for a task's staged
// files: bounded retry, failure classification, self-correction between
// attempts, and guaranteed workspace cleanup.
package testrun

import (
	"context"
	"time"
)

// Mode selects how the test runner executes.
type Mode string

const (
	// ModeAuto runs headless. Not user-cancellable mid-attempt but
	// honors the per-attempt timeout budget.
	ModeAuto Mode = "auto"

	// ModeManual runs an interactive browser. Serialized per task: a
	// second manual run for the same task is rejected while one is
	// active.
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

// RunRequest describes one adapter invocation.
type RunRequest struct {
	// ScriptRef locates the materialized workspace for this attempt.
	ScriptRef string

	// Mode is headless or interactive.
	Mode Mode

	// Timeout is the per-step budget for this attempt.
	Timeout time.Duration
}

// RunResult is the adapter's verdict for one attempt.
type RunResult struct {
	Passed     bool
	Diagnostic string

	// ArtifactRef points at whatever the adapter recorded for the
	// attempt (report URL, trace, screenshot bundle). May be empty;
	// the orchestrator substitutes a fallback reference.
	ArtifactRef string
}

// Runner is the test-runner adapter contract. The adapter authenticates
// against the running target with fixed pipeline-owned credentials before
// executing the task's instructions; implementations live outside the
// orchestrator.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req RunRequest) (RunResult, error)

func (f RunnerFunc) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	return f(ctx, req)
}
