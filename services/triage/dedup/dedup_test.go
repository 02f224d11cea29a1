// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSeen_FirstMissThenDuplicate(t *testing.T) {
	w := NewWindow(time.Hour)
	now := time.Unix(1_700_000_000, 0)

	if w.Seen("fp-1", now) {
		t.Error("first occurrence reported as duplicate")
	}
	if !w.Seen("fp-1", now.Add(time.Second)) {
		t.Error("second occurrence inside window not suppressed")
	}
	if w.Seen("fp-2", now) {
		t.Error("distinct fingerprint suppressed")
	}
}

func TestSeen_ExpiresAtWindowEdge(t *testing.T) {
	w := NewWindow(time.Hour)
	now := time.Unix(1_700_000_000, 0)

	w.Seen("fp-1", now)

	if !w.Seen("fp-1", now.Add(time.Hour-time.Second)) {
		t.Error("fingerprint released before the window closed")
	}
	if w.Seen("fp-1", now.Add(time.Hour)) {
		t.Error("fingerprint still suppressed at the window edge")
	}
}

// A duplicate check must not refresh the original timestamp, so
// suppression ends exactly one window after the FIRST occurrence even
// under a constant error storm.
func TestSeen_NoRefreshOnDuplicate(t *testing.T) {
	w := NewWindow(time.Hour)
	first := time.Unix(1_700_000_000, 0)

	w.Seen("fp-1", first)
	for i := 1; i <= 59; i++ {
		w.Seen("fp-1", first.Add(time.Duration(i)*time.Minute))
	}

	if w.Seen("fp-1", first.Add(time.Hour)) {
		t.Error("storm of duplicates extended the suppression window")
	}
}

func TestLen_PrunesLazily(t *testing.T) {
	w := NewWindow(time.Minute)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		w.Seen(fmt.Sprintf("fp-%d", i), now)
	}
	if got := w.Len(now.Add(30 * time.Second)); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
	if got := w.Len(now.Add(2 * time.Minute)); got != 0 {
		t.Errorf("Len() after expiry = %d, want 0", got)
	}
}

func TestNewWindow_DefaultSpan(t *testing.T) {
	if got := NewWindow(0).Span(); got != DefaultWindow {
		t.Errorf("Span() = %v, want %v", got, DefaultWindow)
	}
	if got := NewWindow(-time.Minute).Span(); got != DefaultWindow {
		t.Errorf("Span() = %v, want %v", got, DefaultWindow)
	}
	if got := NewWindow(5 * time.Minute).Span(); got != 5*time.Minute {
		t.Errorf("Span() = %v, want 5m", got)
	}
}

func TestSetSpan_ReevaluatesExistingEntries(t *testing.T) {
	w := NewWindow(time.Hour)
	now := time.Unix(1_700_000_000, 0)

	w.Seen("fp-1", now)
	w.SetSpan(time.Minute)

	if w.Seen("fp-1", now.Add(2*time.Minute)) {
		t.Error("entry outlived the shortened window")
	}
}

// Exactly one goroutine in a concurrent storm may observe a miss.
func TestSeen_ConcurrentStorm(t *testing.T) {
	w := NewWindow(time.Hour)
	now := time.Unix(1_700_000_000, 0)

	var misses atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !w.Seen("same-fp", now) {
				misses.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := misses.Load(); got != 1 {
		t.Errorf("%d goroutines saw a miss, want exactly 1", got)
	}
}
