// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gen defines the code-generation collaborator: the component that
// turns a natural-language prompt into a candidate staged file set.
//
// The generation algorithm itself is out of scope for the pipeline; this
// package owns only the contract and an OpenAI-compatible backend.
package gen

import (
	"context"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Generator produces a staged file set from a prompt.
//
// hintTargets optionally names files the change is expected to touch; the
// orchestrator passes the previous staged paths when regenerating after a
// no_staged_files failure.
type Generator interface {
	Generate(ctx context.Context, prompt string, hintTargets []string) ([]task.StagedFile, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, hintTargets []string) ([]task.StagedFile, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, hintTargets []string) ([]task.StagedFile, error) {
	return f(ctx, prompt, hintTargets)
}
