// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner adapts the browser-automation sidecar to the testrun
// Runner contract.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/testrun"
)

// Config configures the HTTP runner adapter.
type Config struct {
	// BaseURL is the sidecar's root, e.g. http://localhost:8931.
	BaseURL string

	// Username and Password are the fixed pipeline-owned credentials the
	// sidecar uses to authenticate against the running target before
	// executing test instructions.
	Username string
	Password string

	// RequestSlack is added to the per-attempt budget when bounding the
	// HTTP call, covering sidecar setup and teardown. Default: 15s.
	RequestSlack time.Duration
}

// ConfigFromEnv reads RUNNER_URL, RUNNER_USERNAME and RUNNER_PASSWORD.
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL:  os.Getenv("RUNNER_URL"),
		Username: os.Getenv("RUNNER_USERNAME"),
		Password: os.Getenv("RUNNER_PASSWORD"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8931"
	}
	return cfg
}

// HTTPRunner invokes the browser-automation sidecar over HTTP.
//
// Thread Safety: safe for concurrent use.
type HTTPRunner struct {
	cfg    Config
	client *http.Client
}

// NewHTTPRunner creates a runner adapter. A nil client gets a default.
func NewHTTPRunner(cfg Config, client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.RequestSlack <= 0 {
		cfg.RequestSlack = 15 * time.Second
	}
	return &HTTPRunner{cfg: cfg, client: client}
}

type runPayload struct {
	ScriptRef string `json:"script_ref"`
	Mode      string `json:"mode"`
	TimeoutMs int64  `json:"timeout_ms"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type runReply struct {
	Passed      bool   `json:"passed"`
	Diagnostic  string `json:"diagnostic"`
	ArtifactRef string `json:"artifact_ref"`
}

// Run posts one attempt to the sidecar and returns its verdict.
//
// Description:
//
//	The call is bounded by the attempt's budget plus RequestSlack; a
//	timed-out call surfaces as an error the orchestrator classifies like
//	any other failure. Non-2xx replies become errors carrying the
//	sidecar's response body.
func (r *HTTPRunner) Run(ctx context.Context, req testrun.RunRequest) (testrun.RunResult, error) {
	body, err := json.Marshal(runPayload{
		ScriptRef: req.ScriptRef,
		Mode:      string(req.Mode),
		TimeoutMs: req.Timeout.Milliseconds(),
		Username:  r.cfg.Username,
		Password:  r.cfg.Password,
	})
	if err != nil {
		return testrun.RunResult{}, fmt.Errorf("encode run request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout+r.cfg.RequestSlack)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.BaseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return testrun.RunResult{}, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return testrun.RunResult{}, fmt.Errorf("invoke test runner: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return testrun.RunResult{}, fmt.Errorf("read runner response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return testrun.RunResult{}, fmt.Errorf("test runner returned %d: %s", resp.StatusCode, string(raw))
	}

	var reply runReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return testrun.RunResult{}, fmt.Errorf("decode runner response: %w", err)
	}
	return testrun.RunResult{
		Passed:      reply.Passed,
		Diagnostic:  reply.Diagnostic,
		ArtifactRef: reply.ArtifactRef,
	}, nil
}
