// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"fmt"
	"time"
)

// StateMachine is the sole authority for Task status transitions.
//
// The machine enforces the following transition graph:
//
//	created          → staged            : candidate files produced
//	staged           → testing           : test run begins
//	testing          → tested            : test run succeeded
//	testing          → failed            : retries exhausted
//	tested           → pending_approval  : proposals created, gate armed
//	tested           → testing           : re-test requested
//	pending_approval → testing           : re-test before a decision lands
//	pending_approval → applied           : all proposals approved
//	pending_approval → denied            : any proposal denied
//	<any non-deleted> → deleted          : explicit delete request
//
// applied, denied, failed and deleted are terminal for automated
// processing. Transitions are idempotent under retry: asking for the state
// the task is already in is a no-op success, because the request layer may
// retry on timeout.
//
// Thread Safety:
//
//	StateMachine is immutable after construction and safe for
//	concurrent use.
type StateMachine struct {
	transitions map[Status]map[Status]bool
	nowFn       func() time.Time
}

// NewStateMachine creates a state machine with the full lifecycle graph.
func NewStateMachine() *StateMachine {
	return NewStateMachineAt(time.Now)
}

// NewStateMachineAt creates a state machine with an injectable clock.
// Tests use this to get deterministic UpdatedAt stamps.
func NewStateMachineAt(nowFn func() time.Time) *StateMachine {
	sm := &StateMachine{
		transitions: make(map[Status]map[Status]bool),
		nowFn:       nowFn,
	}

	for _, s := range AllStatuses() {
		sm.transitions[s] = make(map[Status]bool)
	}

	sm.addTransition(StatusCreated, StatusStaged)
	sm.addTransition(StatusStaged, StatusTesting)
	sm.addTransition(StatusTesting, StatusTested)
	sm.addTransition(StatusTesting, StatusFailed)
	sm.addTransition(StatusTested, StatusPendingApproval)
	sm.addTransition(StatusPendingApproval, StatusApplied)
	sm.addTransition(StatusPendingApproval, StatusDenied)

	// Re-testing is allowed until a decision lands.
	sm.addTransition(StatusTested, StatusTesting)
	sm.addTransition(StatusPendingApproval, StatusTesting)

	// Every non-deleted state may be deleted.
	for _, s := range AllStatuses() {
		if s != StatusDeleted {
			sm.addTransition(s, StatusDeleted)
		}
	}

	return sm
}

func (sm *StateMachine) addTransition(from, to Status) {
	sm.transitions[from][to] = true
}

// CanTransition checks if the edge from → to exists in the graph.
// The same-state edge is always allowed (idempotent no-op).
func (sm *StateMachine) CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition returns a copy of the task moved to the target state.
//
// Description:
//
//	Validates the edge and the target state's preconditions, then returns
//	a clone of the task with Status and UpdatedAt set. The input task is
//	never mutated, so a failed store write leaves the caller's snapshot
//	intact. Transitioning to the state the task is already in returns a
//	clone unchanged (no-op success).
//
// Inputs:
//
//	t - Current task snapshot. Must not be nil.
//	to - Target status.
//
// Outputs:
//
//	*Task - Updated clone on success.
//	error - ErrInvalidTransition if the edge does not exist,
//	        ErrPreconditionFailed if a state invariant fails.
func (sm *StateMachine) Transition(t *Task, to Status) (*Task, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	if t.Status == to {
		return t.Clone(), nil
	}

	if !sm.CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	if err := sm.checkPreconditions(t, to); err != nil {
		return nil, err
	}

	updated := t.Clone()
	updated.Status = to
	updated.UpdatedAt = sm.nowFn()
	return updated, nil
}

// checkPreconditions enforces state-specific invariants beyond the edge
// itself.
func (sm *StateMachine) checkPreconditions(t *Task, to Status) error {
	switch to {
	case StatusStaged, StatusTesting:
		if !t.HasStagedFiles() {
			return fmt.Errorf("%w: cannot enter %s with empty staged files", ErrPreconditionFailed, to)
		}
	case StatusPendingApproval:
		if !t.HasStagedFiles() {
			return fmt.Errorf("%w: cannot enter pending_approval with empty staged files", ErrPreconditionFailed)
		}
	}
	return nil
}

// ValidTransitionsFrom returns all target states reachable from the given
// state, excluding the implicit same-state no-op.
func (sm *StateMachine) ValidTransitionsFrom(from Status) []Status {
	var result []Status
	if toMap, ok := sm.transitions[from]; ok {
		for _, s := range AllStatuses() {
			if toMap[s] {
				result = append(result, s)
			}
		}
	}
	return result
}
