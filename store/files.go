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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/TheoryStore/pkg/validation"
)

const filePerm = 0o640

// ===== Atomic Writes =====

// writeFileAtomic writes data to path via a temp file, fsync, and rename,
// followed by a directory fsync, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp for %q: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpName, perm)
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: write %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename %q: %w", path, err)
	}
	return syncDir(dir)
}

// syncDir fsyncs a directory so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("store: open dir %q for sync: %w", dir, err)
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("store: sync dir %q: %w", dir, err)
	}
	return nil
}

// ===== Line Files =====

// readLineFile reads an ordered line file. An absent file is an empty
// list, not an error. Blank lines are skipped.
func readLineFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %q: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// writeListFile atomically replaces an ordered line file.
func writeListFile(path string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()), filePerm)
}

// ===== Commit Markers =====

// commitMarker is the write-ahead marker covering a multi-file mutation.
type commitMarker struct {
	Op      string    `json:"op"`
	BuildID string    `json:"build_id,omitempty"`
	Started time.Time `json:"started"`
}

// beginCommit writes the commit marker for op and returns the function
// that removes it. The returned finish is called only after every
// constituent write has succeeded; a marker abandoned by a failure is
// reported and cleared at the next Open.
func (s *Store) beginCommit(op, buildID string) (func(), error) {
	m := commitMarker{Op: op, BuildID: buildID, Started: time.Now().UTC()}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("store: encode commit marker: %w", err)
	}
	path := s.path(markerFileName)
	if err := writeFileAtomic(path, data, filePerm); err != nil {
		return nil, err
	}
	return func() {
		if err := os.Remove(path); err != nil {
			s.logger.Warn("remove commit marker", "error", err)
		}
	}, nil
}

// recoverMarker reports and clears a leftover commit marker at Open.
//
// A marker present here means a multi-file mutation was interrupted.
// Reconciliation is diff-based, so re-running the interrupted authoring
// step restores consistency; nothing is rolled back.
func (s *Store) recoverMarker() {
	path := s.path(markerFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read commit marker", "error", err)
		}
		return
	}
	var m commitMarker
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("interrupted commit detected, marker unreadable", "error", err)
	} else {
		s.logger.Warn("interrupted commit detected",
			"op", m.Op, "build_id", m.BuildID, "started", m.Started)
	}
	if err := os.Remove(path); err != nil {
		s.logger.Warn("remove stale commit marker", "error", err)
	}
}

// ===== Names =====

// validateName rejects names that cannot serve as slot directories or
// list entries.
func validateName(name string) error {
	if err := validation.ValidateSlotName(name); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
