// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request and response shapes of the pipeline
// HTTP API.
package datatypes

// SubmitRequest creates a new task from a natural-language prompt.
type SubmitRequest struct {
	Prompt string `json:"prompt" binding:"required"`

	// IdempotencyKey deduplicates retried submissions. Optional; an empty
	// key is never deduplicated.
	IdempotencyKey string `json:"idempotency_key"`
}

// StageRequest attaches a candidate change set to a created task.
type StageRequest struct {
	Files []StagedFilePayload `json:"files" binding:"required"`
}

// StagedFilePayload is one file in a stage request.
type StagedFilePayload struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// TestRequest starts a test run for a task.
type TestRequest struct {
	// Mode is "auto" (headless) or "manual" (interactive). Defaults to
	// auto when omitted.
	Mode string `json:"mode"`
}

// BulkDecisionRequest approves or denies a batch of proposals.
type BulkDecisionRequest struct {
	ProposalIDs []string `json:"proposal_ids" binding:"required"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	// Kind is the stable error taxonomy name, e.g. "NotFound".
	Kind  string `json:"kind"`
	Error string `json:"error"`
}
