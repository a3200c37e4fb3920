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
	"fmt"
	"slices"

	"github.com/AleutianAI/TheoryStore/expr"
)

// SubContexts returns the ordered nested context names recorded for this
// context. An absent list is empty.
func (s *Store) SubContexts() ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return readLineFile(s.path(subContextsFileName))
}

// SetSubContexts atomically replaces the recorded sub-context list.
func (s *Store) SetSubContexts(names []string) error {
	if err := s.guard(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if err := validateName(name); err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("store: duplicate sub-context %q", name)
		}
		seen[name] = struct{}{}
	}
	return writeListFile(s.path(subContextsFileName), names)
}

// AppendSubContext appends a name to the sub-context list unless it is
// already present.
func (s *Store) AppendSubContext(name string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	names, err := readLineFile(s.path(subContextsFileName))
	if err != nil {
		return err
	}
	if slices.Contains(names, name) {
		return nil
	}
	return writeListFile(s.path(subContextsFileName), append(names, name))
}

// SpecialName reports which named slot, if any, currently records h.
//
// Description:
//
//	Reverse lookup over the axiom ledger, the theorem ledger, and the
//	commons table, in that order. A scan, not an index; meant for
//	authoring diagnostics, not hot paths.
//
// Outputs:
//   - Kind: KindAxiom, KindTheorem, or KindCommon when found.
//   - string: the recording name.
//   - bool: whether any slot records h.
func (s *Store) SpecialName(h expr.Hash) (Kind, string, bool, error) {
	if err := s.guard(); err != nil {
		return "", "", false, err
	}
	for _, kind := range []Kind{KindAxiom, KindTheorem} {
		names, err := readLineFile(s.listPath(kind))
		if err != nil {
			return "", "", false, err
		}
		for _, name := range names {
			cur, err := s.readSlotHash(kind, name)
			if err != nil {
				return "", "", false, err
			}
			if cur == h {
				return kind, name, true, nil
			}
		}
	}
	t, err := s.ensureCommons()
	if err != nil {
		return "", "", false, err
	}
	for _, name := range t.names {
		if t.hashes[name] == h {
			return KindCommon, name, true, nil
		}
	}
	return "", "", false, nil
}
