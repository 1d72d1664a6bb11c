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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		diagnostic string
		want       task.ErrorClass
	}{
		{"Error: selector not found: #submit-btn", task.ErrClassSelectorNotFound},
		{"waiting for selector `.btn-primary` failed", task.ErrClassSelectorNotFound},
		{"Unable to locate element [data-testid=save]", task.ErrClassSelectorNotFound},
		{"no staged files in workspace", task.ErrClassNoStagedFiles},
		{"empty change set, nothing to run", task.ErrClassNoStagedFiles},
		{"navigation timeout of 30000ms exceeded", task.ErrClassTimeout},
		{"step timed out after 45s", task.ErrClassTimeout},
		{"context deadline exceeded", task.ErrClassTimeout},
		{"TypeError: cannot read property 'foo' of undefined", task.ErrClassUnknown},
		{"", task.ErrClassUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.diagnostic), "diagnostic %q", tc.diagnostic)
	}
}

func TestFixable(t *testing.T) {
	assert.True(t, Fixable(task.ErrClassSelectorNotFound))
	assert.True(t, Fixable(task.ErrClassNoStagedFiles))
	assert.True(t, Fixable(task.ErrClassTimeout))
	assert.False(t, Fixable(task.ErrClassUnknown))
}

func TestRewriteSelectors_OnlyTouchesTestScripts(t *testing.T) {
	files := []task.StagedFile{
		{Path: "src/app.js", Content: `click('#submit-btn')`},
		{Path: "tests/flow.test.js", Content: `click('#submit-btn'); click('.nav-item-contacts')`},
	}

	fixed, changed := RewriteSelectors(files)
	require.True(t, changed)
	assert.Equal(t, `click('#submit-btn')`, fixed[0].Content, "application code must be untouched")
	assert.Contains(t, fixed[1].Content, `button[type="submit"]`)
	assert.Contains(t, fixed[1].Content, `a[href="/contacts"]`)
	// Input slice untouched.
	assert.Contains(t, files[1].Content, "#submit-btn")
}

func TestRewriteSelectors_NoChange(t *testing.T) {
	files := []task.StagedFile{
		{Path: "tests/flow.test.js", Content: `click('button[type="submit"]')`},
	}
	_, changed := RewriteSelectors(files)
	assert.False(t, changed)
}

func TestMaterialize_WritesAndCleansUp(t *testing.T) {
	files := []task.StagedFile{
		{Path: "src/a.js", Content: "let a = 1"},
		{Path: "tests/a.test.js", Content: "test"},
	}

	ws, err := Materialize(files)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws.Dir, "src", "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "let a = 1", string(data))

	dir := ws.Dir
	ws.Cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "workspace must be removed")

	// Second cleanup is a no-op.
	ws.Cleanup()
}

func TestMaterialize_RejectsEscapingPaths(t *testing.T) {
	for _, p := range []string{"../evil.js", "/etc/passwd"} {
		_, err := Materialize([]task.StagedFile{{Path: p, Content: "x"}})
		assert.Error(t, err, "path %q must be rejected", p)
	}
}
