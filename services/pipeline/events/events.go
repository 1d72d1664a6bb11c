// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events defines the fire-and-forget status event stream the
// pipeline publishes for viewers.
//
// The pipeline never blocks on a notifier and never fails an operation
// because publishing failed. Delivery is at-least-once downstream; the
// per-subject sequence number is the dedup key consumers must honor, and
// events for a given task are produced in sequence order.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an event describes.
type Kind string

const (
	KindTaskCreated     Kind = "task_created"
	KindTaskStatus      Kind = "task_status"
	KindTestAttempt     Kind = "test_attempt"
	KindProposalCreated Kind = "proposal_created"
	KindProposalDecided Kind = "proposal_decided"
	KindTasksCleared    Kind = "tasks_cleared"
)

// Event is one status notification.
//
// ID is unique per event. Seq is monotonically increasing per SubjectID;
// consumers discard events whose Seq is not greater than the last one seen
// for that subject.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	SubjectID string         `json:"subject_id"`
	Seq       uint64         `json:"seq"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier is the event sink contract. Publish must not block the caller
// beyond trivial bookkeeping and its errors are advisory only.
type Notifier interface {
	Publish(e Event)
	Close() error
}

// Sequencer wraps a Notifier and stamps each event with an ID, timestamp
// and a per-subject monotonic sequence number before forwarding it.
//
// Thread Safety: safe for concurrent use.
type Sequencer struct {
	next  Notifier
	nowFn func() time.Time

	mu   sync.Mutex
	seqs map[string]uint64
}

// NewSequencer wraps next with sequence stamping.
func NewSequencer(next Notifier) *Sequencer {
	return NewSequencerAt(next, time.Now)
}

// NewSequencerAt is NewSequencer with an injectable clock for tests.
func NewSequencerAt(next Notifier, nowFn func() time.Time) *Sequencer {
	return &Sequencer{
		next:  next,
		nowFn: nowFn,
		seqs:  make(map[string]uint64),
	}
}

// Publish stamps and forwards the event.
func (s *Sequencer) Publish(e Event) {
	s.mu.Lock()
	s.seqs[e.SubjectID]++
	e.Seq = s.seqs[e.SubjectID]
	s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.nowFn()
	}
	s.next.Publish(e)
}

// Forget drops sequence state for a subject. Called after hard deletes so
// the map does not grow without bound.
func (s *Sequencer) Forget(subjectID string) {
	s.mu.Lock()
	delete(s.seqs, subjectID)
	s.mu.Unlock()
}

// Close closes the wrapped notifier.
func (s *Sequencer) Close() error {
	return s.next.Close()
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(Event) {}
func (NopNotifier) Close() error  { return nil }

// CaptureNotifier records events for assertions in tests.
type CaptureNotifier struct {
	mu     sync.Mutex
	events []Event
}

// NewCaptureNotifier creates an empty capture notifier.
func NewCaptureNotifier() *CaptureNotifier {
	return &CaptureNotifier{}
}

func (c *CaptureNotifier) Publish(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *CaptureNotifier) Close() error { return nil }

// Events returns a snapshot of everything published so far.
func (c *CaptureNotifier) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// BySubject returns the captured events for one subject, in publish order.
func (c *CaptureNotifier) BySubject(subjectID string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out
}
