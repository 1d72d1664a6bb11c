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

// canonicalSelectors rewrites selectors that generated test scripts keep
// getting wrong. The left-hand patterns are the brittle forms observed in
// failing runs; the right-hand side is the stable selector the target
// application actually renders.
var canonicalSelectors = map[string]string{
	`[data-testid="submit"]`:      `button[type="submit"]`,
	`[data-testid="save-button"]`: `button[type="submit"]`,
	`#submit-btn`:                 `button[type="submit"]`,
	`.btn-primary`:                `button[type="submit"]`,
	`#login-button`:               `form button[type="submit"]`,
	`.nav-item-contacts`:          `a[href="/contacts"]`,
	`.nav-item-deals`:             `a[href="/deals"]`,
	`[data-testid="table-row"]`:   `table tbody tr`,
}

// RewriteSelectors replaces brittle selectors in test scripts with the
// canonical set and returns the updated file list plus whether anything
// changed. Only files that look like test scripts are touched; the staged
// application code is left alone.
func RewriteSelectors(files []task.StagedFile) ([]task.StagedFile, bool) {
	out := make([]task.StagedFile, len(files))
	changed := false
	for i, f := range files {
		out[i] = f
		if !isTestScript(f.Path) {
			continue
		}
		content := f.Content
		for brittle, canonical := range canonicalSelectors {
			content = strings.ReplaceAll(content, brittle, canonical)
		}
		if content != f.Content {
			out[i].Content = content
			changed = true
		}
	}
	return out, changed
}

// isTestScript reports whether a staged path is a generated test script.
func isTestScript(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, ".test.") ||
		strings.Contains(lower, ".spec.") ||
		strings.HasPrefix(lower, "tests/") ||
		strings.Contains(lower, "/tests/")
}
