// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/TheoryStore/expr"
)

// Entry database key spaces. Each stored expression owns one record key
// and one reference count key, both addressed by the hash's hex form.
const (
	exprKeyPrefix = "expr:"
	refsKeyPrefix = "refs:"
)

// exprKey returns the record key for a hash.
func exprKey(h expr.Hash) []byte {
	return []byte(exprKeyPrefix + h.String())
}

// refsKey returns the reference count key for a hash.
func refsKey(h expr.Hash) []byte {
	return []byte(refsKeyPrefix + h.String())
}

// hashFromRefsKey recovers the hash addressed by a refs: key.
func hashFromRefsKey(key []byte) (expr.Hash, error) {
	if len(key) <= len(refsKeyPrefix) {
		return expr.Hash{}, fmt.Errorf("truncated refs key %q: %w", key, ErrCorrupt)
	}
	h, err := expr.ParseHash(string(key[len(refsKeyPrefix):]))
	if err != nil {
		return expr.Hash{}, fmt.Errorf("refs key %q: %v: %w", key, err, ErrCorrupt)
	}
	return h, nil
}

// encodeCount serializes a reference count as a big-endian uint64.
func encodeCount(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return buf[:]
}

// decodeCount parses a reference count record.
func decodeCount(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("reference count record has %d bytes, want 8: %w", len(data), ErrCorrupt)
	}
	return binary.BigEndian.Uint64(data), nil
}

// openEntriesDB opens the badger instance backing the content store.
func openEntriesDB(dir string, inMemory, syncWrites bool, logger *slog.Logger) (*badger.DB, error) {
	if inMemory {
		dir = ""
	}
	opts := badger.DefaultOptions(dir).
		WithInMemory(inMemory).
		WithSyncWrites(syncWrites).
		WithLogger(badgerLogger{logger.With("subsystem", "badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open entries db at %q: %w", dir, err)
	}
	return db, nil
}

// runValueGC nudges badger's value log garbage collector after a sweep.
// The loop drains all rewritable segments; ErrNoRewrite means done.
func (s *Store) runValueGC() {
	if s.opts.InMemory {
		return
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log gc failed", "error", err)
			}
			return
		}
	}
}

// badgerLogger adapts badger's logging interface onto slog. Badger's info
// output is demoted to debug to keep operation logs readable.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
