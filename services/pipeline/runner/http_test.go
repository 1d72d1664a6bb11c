// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/testrun"
)

func TestHTTPRunner_Run(t *testing.T) {
	var seen runPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/runs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_ = json.NewEncoder(w).Encode(runReply{
			Passed:      true,
			ArtifactRef: "http://runner/report/42",
		})
	}))
	defer srv.Close()

	r := NewHTTPRunner(Config{
		BaseURL:  srv.URL,
		Username: "pipeline-bot",
		Password: "secret",
	}, srv.Client())

	res, err := r.Run(context.Background(), testrun.RunRequest{
		ScriptRef: "/tmp/ws-1",
		Mode:      testrun.ModeAuto,
		Timeout:   30 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "http://runner/report/42", res.ArtifactRef)

	assert.Equal(t, "/tmp/ws-1", seen.ScriptRef)
	assert.Equal(t, "auto", seen.Mode)
	assert.Equal(t, int64(30000), seen.TimeoutMs)
	assert.Equal(t, "pipeline-bot", seen.Username)
}

func TestHTTPRunner_FailedAttemptCarriesDiagnostic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(runReply{
			Passed:     false,
			Diagnostic: "selector not found: #submit-btn",
		})
	}))
	defer srv.Close()

	r := NewHTTPRunner(Config{BaseURL: srv.URL}, srv.Client())
	res, err := r.Run(context.Background(), testrun.RunRequest{Timeout: time.Second})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Diagnostic, "selector not found")
}

func TestHTTPRunner_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "runner exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPRunner(Config{BaseURL: srv.URL}, srv.Client())
	_, err := r.Run(context.Background(), testrun.RunRequest{Timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "runner exploded")
}

func TestHTTPRunner_TimeoutSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can observe the client disconnect
		// and cancel the request context; otherwise srv.Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := NewHTTPRunner(Config{BaseURL: srv.URL, RequestSlack: 10 * time.Millisecond}, srv.Client())
	_, err := r.Run(context.Background(), testrun.RunRequest{Timeout: 10 * time.Millisecond})
	require.Error(t, err)
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("RUNNER_URL", "")
	t.Setenv("RUNNER_USERNAME", "bot")
	t.Setenv("RUNNER_PASSWORD", "pw")

	cfg := ConfigFromEnv()
	assert.Equal(t, "http://localhost:8931", cfg.BaseURL)
	assert.Equal(t, "bot", cfg.Username)
	assert.Equal(t, "pw", cfg.Password)
}
