// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dedup suppresses identical error fingerprints seen within a
// sliding window. It sits upstream of the rate limiter so that a storm
// of one bug consumes at most one quota unit.
package dedup

import (
	"sync"
	"time"
)

// DefaultWindow is the suppression window used when no override is
// configured.
const DefaultWindow = time.Hour

// Window tracks fingerprint first-seen timestamps. Entries are pruned
// lazily on each check; a fingerprint present after pruning is a
// duplicate and its timestamp is NOT refreshed, so suppression always
// ends one window after the first occurrence.
//
// Thread Safety: Safe for concurrent use; one mutex, no I/O inside
// the critical section.
type Window struct {
	mu      sync.Mutex
	span    time.Duration
	entries map[string]time.Time
}

// NewWindow creates a dedup window of the given span. Non-positive
// spans fall back to the default.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = DefaultWindow
	}
	return &Window{
		span:    span,
		entries: make(map[string]time.Time),
	}
}

// Seen reports whether the fingerprint was already recorded inside the
// window. A miss records the fingerprint at now and returns false.
func (w *Window) Seen(fp string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)

	if _, ok := w.entries[fp]; ok {
		return true
	}
	w.entries[fp] = now
	return false
}

// Len returns the number of live entries after pruning at now.
func (w *Window) Len(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.entries)
}

// Span returns the configured window span.
func (w *Window) Span() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.span
}

// SetSpan updates the window span at runtime. Non-positive spans fall
// back to the default. Existing entries keep their original
// timestamps and are re-evaluated against the new span on the next
// check.
func (w *Window) SetSpan(span time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if span <= 0 {
		span = DefaultWindow
	}
	w.span = span
}

// prune drops entries at or past the window edge. Callers must hold
// w.mu.
func (w *Window) prune(now time.Time) {
	for fp, seen := range w.entries {
		if now.Sub(seen) >= w.span {
			delete(w.entries, fp)
		}
	}
}
