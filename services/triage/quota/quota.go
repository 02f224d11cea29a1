// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quota enforces the rolling hourly cap on outbound repair
// dispatches. One bug storm must never exhaust the upstream service's
// goodwill: the dedup window upstream collapses identical errors, and
// this limiter caps what remains.
package quota

import (
	"sync"
	"time"
)

// DefaultMaxRequestsPerHour is the dispatch cap used when no override
// is configured.
const DefaultMaxRequestsPerHour = 10

// HourlyLimiter counts admissions per integer hour-since-epoch.
// Crossing into a new hour starts a fresh bucket; stale buckets are
// dropped opportunistically. Denied admissions are not retried, the
// caller reports a rate-limit skip.
//
// Thread Safety: Safe for concurrent use; one mutex, no I/O inside
// the critical section.
type HourlyLimiter struct {
	mu       sync.Mutex
	max      int
	counts   map[int64]int
	lastHour int64
}

// NewHourlyLimiter creates a limiter admitting at most max dispatches
// per hour. Non-positive max falls back to the default cap.
func NewHourlyLimiter(max int) *HourlyLimiter {
	if max <= 0 {
		max = DefaultMaxRequestsPerHour
	}
	return &HourlyLimiter{
		max:    max,
		counts: make(map[int64]int),
	}
}

// Allow admits one dispatch at the given instant. It returns false
// when the current hour's bucket is full; otherwise it increments the
// bucket and returns true.
func (l *HourlyLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	hour := hourBucket(now)
	if l.counts[hour] >= l.max {
		return false
	}
	l.counts[hour]++
	return true
}

// Used returns the number of admissions in the current hour.
func (l *HourlyLimiter) Used(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[hourBucket(now)]
}

// Remaining returns how many admissions are left in the current hour.
func (l *HourlyLimiter) Remaining(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	left := l.max - l.counts[hourBucket(now)]
	if left < 0 {
		return 0
	}
	return left
}

// Max returns the configured hourly cap.
func (l *HourlyLimiter) Max() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

// SetMax updates the hourly cap at runtime. Non-positive values fall
// back to the default. Existing bucket counts are kept, so lowering
// the cap below the current count denies until the next hour.
func (l *HourlyLimiter) SetMax(max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if max <= 0 {
		max = DefaultMaxRequestsPerHour
	}
	l.max = max
}

// Reset clears all bucket counts, as if the hour had just rolled
// over. Used by operators after an intentional storm (load tests,
// replayed journals) to restore a full budget.
func (l *HourlyLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.counts)
}

// sweep drops every bucket when the clock has crossed into a new
// hour. Only the current-hour bucket ever matters for admission; this
// keeps the map from accumulating one entry per hour of uptime.
// Callers must hold l.mu.
func (l *HourlyLimiter) sweep(now time.Time) {
	hour := hourBucket(now)
	if hour != l.lastHour {
		clear(l.counts)
		l.lastHour = hour
	}
}

func hourBucket(now time.Time) int64 {
	return now.Unix() / 3600
}
