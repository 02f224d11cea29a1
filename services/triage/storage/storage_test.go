// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/triage/history"
)

var _ history.Journal = (*Journal)(nil)

func sampleState(session string) history.FingerprintState {
	return history.FingerprintState{
		Attempts: []history.Attempt{{
			SessionID:  session,
			SessionURL: "https://app.devin.ai/sessions/" + session,
			Status:     history.StatusInProgress,
			CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
		ActiveSession: session,
	}
}

// TestSaveLoad_RoundTrip verifies an in-memory journal round-trips state.
func TestSaveLoad_RoundTrip(t *testing.T) {
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Save("fp-1", sampleState("sess-1")))
	require.NoError(t, j.Save("fp-2", sampleState("sess-2")))

	state, err := j.Load()
	require.NoError(t, err)
	require.Len(t, state, 2)
	assert.Equal(t, "sess-1", state["fp-1"].ActiveSession)
	assert.Equal(t, "sess-2", state["fp-2"].ActiveSession)
	require.Len(t, state["fp-1"].Attempts, 1)
	assert.Equal(t, history.StatusInProgress, state["fp-1"].Attempts[0].Status)
}

// TestSave_Overwrite verifies the latest snapshot wins.
func TestSave_Overwrite(t *testing.T) {
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Save("fp-1", sampleState("sess-1")))

	updated := sampleState("sess-1")
	updated.ActiveSession = ""
	updated.Attempts[0].Status = history.StatusResolved
	updated.Cooldown = &history.CooldownRecord{
		ResolvedAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		PRURL:      "https://github.com/acme/api/pull/9",
	}
	require.NoError(t, j.Save("fp-1", updated))

	state, err := j.Load()
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Empty(t, state["fp-1"].ActiveSession)
	require.NotNil(t, state["fp-1"].Cooldown)
	assert.Equal(t, "https://github.com/acme/api/pull/9", state["fp-1"].Cooldown.PRURL)
}

// TestPersistence verifies state survives a close and reopen.
func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false // faster tests

	j, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, j.Save("fp-1", sampleState("sess-1")))
	require.NoError(t, j.Close())

	j2, err := Open(cfg)
	require.NoError(t, err)
	defer j2.Close()

	state, err := j2.Load()
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Equal(t, "sess-1", state["fp-1"].ActiveSession)
}

// TestDelete verifies removal, including of missing keys.
func TestDelete(t *testing.T) {
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Save("fp-1", sampleState("sess-1")))
	require.NoError(t, j.Delete("fp-1"))
	require.NoError(t, j.Delete("never-existed"))

	state, err := j.Load()
	require.NoError(t, err)
	assert.Empty(t, state)
}

// TestLoad_SkipsCorruptEntry verifies one bad record does not poison
// the replay.
func TestLoad_SkipsCorruptEntry(t *testing.T) {
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Save("fp-good", sampleState("sess-1")))
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fingerprintPrefix+"fp-bad"), []byte("{not json"))
	})
	require.NoError(t, err)

	state, err := j.Load()
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Contains(t, state, "fp-good")
}

// TestOpen_RequiresPath verifies persistent journals demand a path.
func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

// TestLoad_IgnoresForeignKeys verifies keys outside the journal
// prefix are invisible.
func TestLoad_IgnoresForeignKeys(t *testing.T) {
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer j.Close()

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("other/key"), []byte("data"))
	})
	require.NoError(t, err)

	state, err := j.Load()
	require.NoError(t, err)
	assert.Empty(t, state)
}
