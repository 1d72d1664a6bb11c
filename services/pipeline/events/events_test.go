// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer_PerSubjectMonotonic(t *testing.T) {
	capture := NewCaptureNotifier()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seq := NewSequencerAt(capture, func() time.Time { return now })

	seq.Publish(Event{Kind: KindTaskCreated, SubjectID: "t1"})
	seq.Publish(Event{Kind: KindTaskStatus, SubjectID: "t1"})
	seq.Publish(Event{Kind: KindTaskCreated, SubjectID: "t2"})
	seq.Publish(Event{Kind: KindTaskStatus, SubjectID: "t1"})

	t1 := capture.BySubject("t1")
	require.Len(t, t1, 3)
	for i, e := range t1 {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, now, e.Timestamp)
	}

	t2 := capture.BySubject("t2")
	require.Len(t, t2, 1)
	assert.Equal(t, uint64(1), t2[0].Seq)
}

func TestSequencer_ForgetResetsSubject(t *testing.T) {
	capture := NewCaptureNotifier()
	seq := NewSequencer(capture)

	seq.Publish(Event{SubjectID: "t1"})
	seq.Forget("t1")
	seq.Publish(Event{SubjectID: "t1"})

	evs := capture.BySubject("t1")
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(1), evs[1].Seq)
}

func TestSequencer_ConcurrentPublishes(t *testing.T) {
	capture := NewCaptureNotifier()
	seq := NewSequencer(capture)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			seq.Publish(Event{Kind: KindTestAttempt, SubjectID: "t1"})
		}()
	}
	wg.Wait()

	evs := capture.BySubject("t1")
	require.Len(t, evs, n)

	seen := make(map[uint64]bool, n)
	for _, e := range evs {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
		assert.True(t, e.Seq >= 1 && e.Seq <= n)
	}
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.ClientCount())

	// Publishing to a closed hub must not panic.
	h.Publish(Event{Kind: KindTaskStatus, SubjectID: "t1"})
}
