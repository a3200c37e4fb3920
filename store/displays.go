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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/TheoryStore/expr"
)

// SetDisplayed replaces a named display reference set.
//
// Description:
//
//	A display set names the hashes some authoring surface currently has
//	on screen; membership holds one display reference so the entries
//	survive sweeps while visible. The new set is diffed against
//	displays/<name>.list: hashes entering the set gain a reference,
//	hashes leaving it release one. Every requested hash must already
//	have an entry; that is validated before anything is touched. The
//	file holds the sorted set and is deleted when the set empties.
//	An identical set is a no-op.
//
// Outputs:
//   - error: ErrNotFound for an unknown hash, ErrCorrupt for a
//     malformed set file.
func (s *Store) SetDisplayed(ctx context.Context, name string, hashes []expr.Hash) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	_, span := tracer.Start(ctx, "store.SetDisplayed")
	defer span.End()

	next := make(map[expr.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		next[h] = struct{}{}
	}

	// Validated up front so a bad hash cannot strand a half-applied set.
	err := s.db.View(func(txn *badger.Txn) error {
		for h := range next {
			ok, err := s.hasEntry(txn, h)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("store: no entry for %s: %w", h.Short(), ErrNotFound)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	path := s.displayPath(name)
	prevLines, err := readLineFile(path)
	if err != nil {
		return err
	}
	prev := make(map[expr.Hash]struct{}, len(prevLines))
	for _, line := range prevLines {
		h, err := expr.ParseHash(line)
		if err != nil {
			return fmt.Errorf("store: display set %q line %q: %v: %w", name, line, err, ErrCorrupt)
		}
		prev[h] = struct{}{}
	}

	var gained, departed []expr.Hash
	for h := range next {
		if _, held := prev[h]; !held {
			gained = append(gained, h)
		}
	}
	for h := range prev {
		if _, kept := next[h]; !kept {
			departed = append(departed, h)
		}
	}
	if len(gained) == 0 && len(departed) == 0 {
		return nil
	}
	sortHashes(gained)
	sortHashes(departed)

	finish, err := s.beginCommit("set_displayed", uuid.NewString())
	if err != nil {
		return err
	}

	for _, h := range gained {
		if err := s.AddReference(ctx, h); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if len(next) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store: remove display set %q: %w", name, err)
		}
	} else {
		if err := os.MkdirAll(s.path(displaysDirName), dirPerm); err != nil {
			return fmt.Errorf("store: create displays dir: %w", err)
		}
		lines := make([]string, 0, len(next))
		for h := range next {
			lines = append(lines, h.String())
		}
		sort.Strings(lines)
		if err := writeListFile(path, lines); err != nil {
			return err
		}
	}

	for _, h := range departed {
		if err := s.RemoveReference(ctx, h, false); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	finish()

	s.logger.Debug("display set updated",
		"name", name, "size", len(next), "gained", len(gained), "departed", len(departed))
	return nil
}

// ClearDisplayed empties a display set, releasing its references.
func (s *Store) ClearDisplayed(ctx context.Context, name string) error {
	return s.SetDisplayed(ctx, name, nil)
}

// DisplayNames returns the names of the current display sets.
func (s *Store) DisplayNames() ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(s.path(displaysDirName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read displays dir: %w", err)
	}
	var names []string
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".list") {
			continue
		}
		names = append(names, strings.TrimSuffix(d.Name(), ".list"))
	}
	return names, nil
}

func (s *Store) displayPath(name string) string {
	return s.path(displaysDirName, name+".list")
}
