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
	"strings"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Diagnostic markers per error class. Matching is case-insensitive
// substring search over the adapter's raw output; the markers come from
// the browser-automation tool's observed failure messages.
var classMarkers = []struct {
	class   task.ErrorClass
	markers []string
}{
	{
		class: task.ErrClassSelectorNotFound,
		markers: []string{
			"selector not found",
			"no element matches",
			"unable to locate element",
			"waiting for selector",
		},
	},
	{
		class: task.ErrClassNoStagedFiles,
		markers: []string{
			"no staged files",
			"empty change set",
			"nothing to test",
		},
	},
	{
		class: task.ErrClassTimeout,
		markers: []string{
			"timeout",
			"timed out",
			"deadline exceeded",
			"context canceled",
		},
	},
}

// Classify maps an adapter diagnostic onto the closed error-class set.
// Anything unrecognized is unknown, which aborts retries.
func Classify(diagnostic string) task.ErrorClass {
	lower := strings.ToLower(diagnostic)
	for _, entry := range classMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(lower, marker) {
				return entry.class
			}
		}
	}
	return task.ErrClassUnknown
}

// Fixable reports whether a class has a self-correction strategy. unknown
// failures abort immediately even with attempts remaining.
func Fixable(class task.ErrorClass) bool {
	switch class {
	case task.ErrClassSelectorNotFound, task.ErrClassNoStagedFiles, task.ErrClassTimeout:
		return true
	default:
		return false
	}
}
