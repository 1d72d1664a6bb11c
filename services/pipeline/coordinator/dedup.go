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
	"sync"
	"time"
)

// dedupTTL is how long a submission's idempotency key is remembered. The
// window trades strict exactly-once semantics for bounded memory.
const dedupTTL = 60 * time.Second

// dedupWindow is a time-windowed set of idempotency keys. Expired keys are
// purged lazily on each lookup rather than by a background sweeper.
//
// Thread Safety: safe for concurrent use.
type dedupWindow struct {
	ttl   time.Duration
	nowFn func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// newDedupWindow creates a window with an injectable clock.
func newDedupWindow(ttl time.Duration, nowFn func() time.Time) *dedupWindow {
	if ttl <= 0 {
		ttl = dedupTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &dedupWindow{
		ttl:   ttl,
		nowFn: nowFn,
		seen:  make(map[string]time.Time),
	}
}

// Seen reports whether the key is present within the window. Expired keys
// are purged on every lookup. An empty key is never deduplicated.
func (w *dedupWindow) Seen(key string) bool {
	if key == "" {
		return false
	}
	now := w.nowFn()

	w.mu.Lock()
	defer w.mu.Unlock()

	for k, at := range w.seen {
		if now.Sub(at) >= w.ttl {
			delete(w.seen, k)
		}
	}

	at, ok := w.seen[key]
	return ok && now.Sub(at) < w.ttl
}

// Record remembers the key from now. The caller records only after the
// submission is durably created; a failed create must not burn the key.
func (w *dedupWindow) Record(key string) {
	if key == "" {
		return
	}
	w.mu.Lock()
	w.seen[key] = w.nowFn()
	w.mu.Unlock()
}

// Len returns the current key count. Used by tests to verify lazy purging.
func (w *dedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
