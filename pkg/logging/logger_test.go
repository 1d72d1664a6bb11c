// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_WritesFileLog(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Service: "testsvc", LogDir: dir})
	logger.Info("pipeline event", "task_id", "t-1")

	matches, err := filepath.Glob(filepath.Join(dir, "testsvc_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("file log must be JSON: %v", err)
	}
	if entry["service"] != "testsvc" {
		t.Errorf("missing service attribute: %v", entry)
	}
	if entry["task_id"] != "t-1" {
		t.Errorf("missing task_id attribute: %v", entry)
	}
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Service: "testsvc", LogDir: dir})
	logger.Debug("should be filtered")

	matches, _ := filepath.Glob(filepath.Join(dir, "testsvc_*.log"))
	if len(matches) == 1 {
		data, _ := os.ReadFile(matches[0])
		if strings.Contains(string(data), "should be filtered") {
			t.Error("debug entry leaked through info level")
		}
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	}}
	logger := slog.New(h)
	logger.Info("fan out")

	if !strings.Contains(a.String(), "fan out") || !strings.Contains(b.String(), "fan out") {
		t.Error("record must reach every handler")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("enabled must report true when any handler accepts the level")
	}
}
