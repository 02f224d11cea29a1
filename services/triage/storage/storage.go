// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the durable journal behind the repair
// history store, built on BadgerDB.
//
// Each fingerprint's state is one key under a shared prefix, stored
// as JSON. The store replays the full prefix at startup and rewrites
// a fingerprint's key after every mutation, so a crash loses at most
// the write in flight.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
// This package follows Apache 2.0 guidelines for attribution and usage.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianTriage/services/triage/history"
)

// fingerprintPrefix namespaces journal keys so unrelated data can
// share the database later.
const fingerprintPrefix = "triage/fp/"

// Config holds configuration for the journal's BadgerDB instance.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, that output is discarded.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before
	// a GC pass rewrites the value log.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for a journal at path:
// synchronous writes, 5-minute GC interval, 50% discard ratio.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for testing: no disk I/O,
// no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Journal is a BadgerDB-backed implementation of history.Journal.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Journal struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open creates the journal's database, creating the directory if
// needed, and starts the GC loop when configured. Callers must Close
// the journal when done.
func Open(cfg Config) (*Journal, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent journal")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.stopGC = make(chan struct{})
		j.doneGC = make(chan struct{})
		go j.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return j, nil
}

// Load reads every persisted fingerprint state. Entries that fail to
// decode are skipped with a warning rather than poisoning the whole
// replay.
func (j *Journal) Load() (map[string]history.FingerprintState, error) {
	out := make(map[string]history.FingerprintState)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fingerprintPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			fp := string(item.Key()[len(fingerprintPrefix):])
			err := item.Value(func(val []byte) error {
				var state history.FingerprintState
				if err := json.Unmarshal(val, &state); err != nil {
					j.logger.Warn("skipping undecodable journal entry",
						"fingerprint", fp, "error", err)
					return nil
				}
				out[fp] = state
				return nil
			})
			if err != nil {
				return fmt.Errorf("read journal entry %s: %w", fp, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save replaces the persisted state for one fingerprint.
func (j *Journal) Save(fp string, state history.FingerprintState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode journal entry %s: %w", fp, err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fingerprintPrefix+fp), raw)
	})
	if err != nil {
		return fmt.Errorf("write journal entry %s: %w", fp, err)
	}
	return nil
}

// Delete removes one fingerprint's persisted state. Missing keys are
// not an error.
func (j *Journal) Delete(fp string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(fingerprintPrefix + fp))
	})
	if err != nil {
		return fmt.Errorf("delete journal entry %s: %w", fp, err)
	}
	return nil
}

// Close stops the GC loop and closes the database. Safe to call once.
func (j *Journal) Close() error {
	if j.stopGC != nil {
		close(j.stopGC)
		<-j.doneGC
	}
	return j.db.Close()
}

func (j *Journal) gcLoop(interval time.Duration, ratio float64) {
	defer close(j.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when nothing needed
			// collecting; that is not an error.
			err := j.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				j.logger.Warn("journal value log GC error", "error", err)
			}
		}
	}
}
