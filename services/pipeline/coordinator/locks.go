// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"context"
	"sync"
)

// runRegistry tracks the cancel function of each in-flight test run so a
// delete or clear can cancel it before touching shared state.
//
// Thread Safety: safe for concurrent use.
type runRegistry struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func newRunRegistry() *runRegistry {
	return &runRegistry{running: make(map[string]context.CancelFunc)}
}

// track registers a run's cancel function. Returns false when a run is
// already tracked for the task, leaving the existing registration intact.
func (r *runRegistry) track(taskID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, active := r.running[taskID]; active {
		return false
	}
	r.running[taskID] = cancel
	return true
}

// untrack removes the registration without cancelling.
func (r *runRegistry) untrack(taskID string) {
	r.mu.Lock()
	delete(r.running, taskID)
	r.mu.Unlock()
}

// cancel cancels and removes the task's in-flight run, if any.
func (r *runRegistry) cancel(taskID string) {
	r.mu.Lock()
	cancelFn, active := r.running[taskID]
	delete(r.running, taskID)
	r.mu.Unlock()
	if active {
		cancelFn()
	}
}

// cancelAll cancels every in-flight run.
func (r *runRegistry) cancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.running))
	for id, fn := range r.running {
		cancels = append(cancels, fn)
		delete(r.running, id)
	}
	r.mu.Unlock()
	for _, fn := range cancels {
		fn()
	}
}

// active reports whether a run is tracked for the task.
func (r *runRegistry) active(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[taskID]
	return ok
}
