// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

// FingerprintState is the journal's unit of persistence: everything
// the store knows about a single fingerprint, snapshotted after each
// mutation.
type FingerprintState struct {
	Attempts      []Attempt       `json:"attempts,omitempty"`
	Cooldown      *CooldownRecord `json:"cooldown,omitempty"`
	ActiveSession string          `json:"active_session,omitempty"`
}

// Journal persists per-fingerprint state across restarts. Load is
// called once during NewStore; Save after every mutation, outside the
// store lock. Implementations must tolerate concurrent Save calls for
// different fingerprints.
type Journal interface {
	// Load returns all persisted state keyed by fingerprint. An empty
	// journal returns an empty (or nil) map and no error.
	Load() (map[string]FingerprintState, error)

	// Save replaces the persisted state for one fingerprint.
	Save(fp string, state FingerprintState) error
}
