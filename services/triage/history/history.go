// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history tracks per-fingerprint repair state: the cooldown
// record left behind by a merged fix, the at-most-one active repair
// session, and the append-only list of prior fix attempts.
//
// # Description
//
// Three logical tables keyed by fingerprint live under one lock:
//
//	resolved: fingerprint -> CooldownRecord (overwritten on each merge)
//	active:   fingerprint -> session ID     (at most one per fingerprint)
//	attempts: fingerprint -> []Attempt      (append-only)
//
// All reads return copies; no caller ever sees internal state. State
// is in-memory and lost on restart unless a Journal is attached, in
// which case every mutation is snapshotted per fingerprint and
// replayed at construction.
//
// # Invariants
//
//   - After MarkMerged, no active session remains for the fingerprint.
//   - CooldownRecord.ResolvedAt never decreases across merges.
//   - Every active session has a matching in_progress attempt.
//   - Attempt status transitions are monotone: in_progress may become
//     resolved or cancelled; terminal states never change.
//
// # Thread Safety
//
// Store is safe for concurrent use. Critical sections are short and
// perform no I/O; journal writes happen outside the lock.
package history

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultPRMergeCooldown is how long reports of a fingerprint are
// suppressed after a fix for it merges, letting the deployment land
// before the same error can trigger a new session.
const DefaultPRMergeCooldown = 5 * time.Minute

// =============================================================================
// Types
// =============================================================================

// AttemptStatus tracks the lifecycle of one repair attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusResolved   AttemptStatus = "resolved"
	StatusCancelled  AttemptStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s AttemptStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Attempt is one entry in a fingerprint's append-only repair history.
type Attempt struct {
	SessionID  string        `json:"session_id"`
	SessionURL string        `json:"session_url"`
	PRURL      string        `json:"pr_url,omitempty"`
	Status     AttemptStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt time.Time     `json:"resolved_at,omitzero"`
	Notes      string        `json:"notes,omitempty"`
}

// CooldownRecord marks the most recent merged fix for a fingerprint.
type CooldownRecord struct {
	ResolvedAt time.Time `json:"resolved_at"`
	PRURL      string    `json:"pr_url"`
	SessionID  string    `json:"session_id"`
	Notes      string    `json:"notes,omitempty"`
}

// ErrorHistory is the read-side view of a fingerprint's past attempts,
// consumed by the prompt builder.
type ErrorHistory struct {
	HasHistory       bool
	Attempts         []Attempt
	TotalOccurrences int
	FirstSeen        time.Time
}

// StoreStats summarizes store size for the stats endpoint.
type StoreStats struct {
	ActiveSessions int `json:"active_sessions"`
	ResolvedErrors int `json:"resolved_errors"`
	TrackedErrors  int `json:"tracked_errors"`
}

// =============================================================================
// Store
// =============================================================================

// Store owns all per-fingerprint repair state. Construct with NewStore;
// the zero value is not usable.
type Store struct {
	mu       sync.Mutex
	cooldown time.Duration
	resolved map[string]CooldownRecord
	active   map[string]string
	attempts map[string][]Attempt
	journal  Journal
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCooldown overrides the PR-merge cooldown duration.
// Non-positive values keep the default.
func WithCooldown(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithJournal attaches a durable journal. Existing journal state is
// replayed during NewStore; afterwards every mutation is persisted.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store and, when a journal is attached, replays
// its persisted state. The returned error is non-nil only when replay
// fails; an empty or absent journal is not an error.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		cooldown: DefaultPRMergeCooldown,
		resolved: make(map[string]CooldownRecord),
		active:   make(map[string]string),
		attempts: make(map[string][]Attempt),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.journal != nil {
		state, err := s.journal.Load()
		if err != nil {
			return nil, err
		}
		for fp, fs := range state {
			if len(fs.Attempts) > 0 {
				s.attempts[fp] = append([]Attempt(nil), fs.Attempts...)
			}
			if fs.Cooldown != nil {
				s.resolved[fp] = *fs.Cooldown
			}
			if fs.ActiveSession != "" {
				s.active[fp] = fs.ActiveSession
			}
		}
		if len(state) > 0 {
			s.logger.Info("replayed repair history from journal",
				"fingerprints", len(state))
		}
	}
	return s, nil
}

// CheckCooldown reports whether the fingerprint is inside the
// PR-merge cooldown at the given instant, along with when the
// cooldown ends and the merged PR's URL.
func (s *Store) CheckCooldown(fp string, now time.Time) (bool, time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resolved[fp]
	if !ok || rec.ResolvedAt.IsZero() {
		return false, time.Time{}, ""
	}
	endsAt := rec.ResolvedAt.Add(s.cooldown)
	if now.Before(endsAt) {
		return true, endsAt, rec.PRURL
	}
	return false, time.Time{}, ""
}

// ActiveSession returns the in-flight session for the fingerprint,
// if any.
func (s *Store) ActiveSession(fp string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.active[fp]
	return sid, ok
}

// ActiveSessions returns a copy of the full fingerprint -> session
// map, consumed by the active-work inspector.
func (s *Store) ActiveSessions() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.active))
	for fp, sid := range s.active {
		out[fp] = sid
	}
	return out
}

// History returns the fingerprint's attempt history. The attempts
// slice is a copy in append order; FirstSeen is the earliest attempt
// creation time.
func (s *Store) History(fp string) ErrorHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := s.attempts[fp]
	if len(attempts) == 0 {
		return ErrorHistory{}
	}

	out := ErrorHistory{
		HasHistory:       true,
		Attempts:         append([]Attempt(nil), attempts...),
		TotalOccurrences: len(attempts),
	}
	for _, a := range attempts {
		if out.FirstSeen.IsZero() || a.CreatedAt.Before(out.FirstSeen) {
			out.FirstSeen = a.CreatedAt
		}
	}
	return out
}

// RecordAttempt appends a new in-progress attempt and marks its
// session active. Called after a successful dispatch.
func (s *Store) RecordAttempt(fp, sessionID, sessionURL string, now time.Time) {
	s.mu.Lock()
	s.attempts[fp] = append(s.attempts[fp], Attempt{
		SessionID:  sessionID,
		SessionURL: sessionURL,
		Status:     StatusInProgress,
		CreatedAt:  now,
	})
	s.active[fp] = sessionID
	snapshot := s.snapshotLocked(fp)
	s.mu.Unlock()

	s.persist(fp, snapshot)
}

// MarkMerged records a merged fix: the cooldown record is overwritten,
// the matching in-progress attempt becomes resolved, and the active
// session is cleared. Re-marking an already-resolved attempt is a
// no-op on the attempt; terminal states never change.
func (s *Store) MarkMerged(fp, prURL, sessionID, notes string, now time.Time) {
	s.mu.Lock()
	resolvedAt := now
	if prev, ok := s.resolved[fp]; ok && prev.ResolvedAt.After(resolvedAt) {
		resolvedAt = prev.ResolvedAt
	}
	s.resolved[fp] = CooldownRecord{
		ResolvedAt: resolvedAt,
		PRURL:      prURL,
		SessionID:  sessionID,
		Notes:      notes,
	}

	attempts := s.attempts[fp]
	for i := range attempts {
		if attempts[i].SessionID != sessionID {
			continue
		}
		if !attempts[i].Status.Terminal() {
			attempts[i].Status = StatusResolved
			attempts[i].ResolvedAt = now
			attempts[i].PRURL = prURL
			attempts[i].Notes = notes
		}
		break
	}

	delete(s.active, fp)
	snapshot := s.snapshotLocked(fp)
	s.mu.Unlock()

	s.logger.Info("marked error resolved, cooldown started",
		"fingerprint", short(fp),
		"pr_url", prURL,
		"cooldown", s.cooldown)
	s.persist(fp, snapshot)
}

// RecordCancelled clears the active session and closes its in-progress
// attempt as cancelled. Unknown sessions only clear the active slot.
func (s *Store) RecordCancelled(fp, sessionID, notes string, now time.Time) {
	s.mu.Lock()
	attempts := s.attempts[fp]
	for i := range attempts {
		if attempts[i].SessionID != sessionID {
			continue
		}
		if !attempts[i].Status.Terminal() {
			attempts[i].Status = StatusCancelled
			attempts[i].ResolvedAt = now
			attempts[i].Notes = notes
		}
		break
	}
	if s.active[fp] == sessionID {
		delete(s.active, fp)
	}
	snapshot := s.snapshotLocked(fp)
	s.mu.Unlock()

	s.persist(fp, snapshot)
}

// ClearActive removes the active session pointer without touching
// attempt status. The caller may record a cancellation separately.
func (s *Store) ClearActive(fp string) {
	s.mu.Lock()
	_, had := s.active[fp]
	delete(s.active, fp)
	snapshot := s.snapshotLocked(fp)
	s.mu.Unlock()

	if had {
		s.logger.Info("cleared active session", "fingerprint", short(fp))
	}
	s.persist(fp, snapshot)
}

// Cooldown returns the configured cooldown duration.
func (s *Store) Cooldown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldown
}

// SetCooldown updates the cooldown duration at runtime. Non-positive
// values fall back to the default.
func (s *Store) SetCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		d = DefaultPRMergeCooldown
	}
	s.cooldown = d
}

// Stats returns current table sizes.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{
		ActiveSessions: len(s.active),
		ResolvedErrors: len(s.resolved),
		TrackedErrors:  len(s.attempts),
	}
}

// snapshotLocked builds the journal snapshot for one fingerprint.
// Callers must hold s.mu.
func (s *Store) snapshotLocked(fp string) FingerprintState {
	fs := FingerprintState{}
	if attempts := s.attempts[fp]; len(attempts) > 0 {
		fs.Attempts = append([]Attempt(nil), attempts...)
	}
	if rec, ok := s.resolved[fp]; ok {
		c := rec
		fs.Cooldown = &c
	}
	fs.ActiveSession = s.active[fp]
	return fs
}

// persist writes one fingerprint's snapshot to the journal, outside
// the store lock. Journal failures degrade durability, never routing:
// they are logged and swallowed.
func (s *Store) persist(fp string, state FingerprintState) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Save(fp, state); err != nil {
		s.logger.Error("journal write failed",
			"fingerprint", short(fp), "error", err)
	}
}

func short(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
