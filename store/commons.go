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
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TheoryStore/expr"
)

// commonsTable is the in-memory image of commons.table: ordered names
// plus each name's hash. Loaded lazily, refreshed by reconciliation.
type commonsTable struct {
	names  []string
	hashes map[string]expr.Hash
}

// ensureCommons returns the table, loading it from disk on first use.
func (s *Store) ensureCommons() (*commonsTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.commons != nil {
		return s.commons, nil
	}
	t, err := s.loadCommonsTable()
	if err != nil {
		return nil, err
	}
	s.commons = t
	return t, nil
}

// loadCommonsTable parses commons.table. Absent file is an empty table.
func (s *Store) loadCommonsTable() (*commonsTable, error) {
	lines, err := readLineFile(s.path(commonsFileName))
	if err != nil {
		return nil, err
	}
	t := &commonsTable{hashes: make(map[string]expr.Hash, len(lines))}
	for _, line := range lines {
		name, hex, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("store: commons table line %q: %w", line, ErrCorrupt)
		}
		h, err := expr.ParseHash(strings.TrimSpace(hex))
		if err != nil {
			return nil, fmt.Errorf("store: commons table %q: %v: %w", name, err, ErrCorrupt)
		}
		if _, dup := t.hashes[name]; dup {
			return nil, fmt.Errorf("store: commons table repeats %q: %w", name, ErrCorrupt)
		}
		t.names = append(t.names, name)
		t.hashes[name] = h
	}
	return t, nil
}

// ReconcileCommons brings the common expression table to the requested
// state.
//
// Description:
//
//	Same discipline as ReconcileStatements, collapsed onto the single
//	commons.table file of ordered "name hash" lines. References follow
//	the table's hash set rather than its names: a hash leaving the set
//	releases one special reference, a hash entering it gains one, and a
//	hash shared by several common names holds exactly one. The change
//	report stays name-based for logging parity with the statement
//	ledgers.
//
// Outputs:
//   - Changes: added, modified, removed common names.
//   - error: validation failure, ErrCorrupt for a malformed table, or
//     the first write failure.
func (s *Store) ReconcileCommons(ctx context.Context, orderedNames []string, defs map[string]expr.Expression) (Changes, error) {
	var changes Changes
	if err := s.guard(); err != nil {
		return changes, err
	}
	ctx, span := tracer.Start(ctx, "store.ReconcileCommons",
		trace.WithAttributes(attribute.Int("names", len(orderedNames))),
	)
	defer span.End()
	timer := prometheus.NewTimer(reconcileSeconds.WithLabelValues("commons"))
	defer timer.ObserveDuration()

	fail := func(err error) (Changes, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return changes, err
	}

	newSet := make(map[string]struct{}, len(orderedNames))
	for _, name := range orderedNames {
		if err := validateName(name); err != nil {
			return fail(err)
		}
		// The table format is "name hash" per line.
		if strings.Contains(name, " ") {
			return fail(fmt.Errorf("store: common name %q contains a space", name))
		}
		if _, dup := newSet[name]; dup {
			return fail(fmt.Errorf("store: duplicate common name %q", name))
		}
		newSet[name] = struct{}{}
		if defs[name] == nil {
			return fail(fmt.Errorf("store: no definition for common %q", name))
		}
	}

	prev, err := s.ensureCommons()
	if err != nil {
		return fail(err)
	}

	newHashes := make(map[string]expr.Hash, len(orderedNames))
	for _, name := range orderedNames {
		newHashes[name] = expr.HashOf(defs[name])
	}

	for _, name := range orderedNames {
		old, existed := prev.hashes[name]
		switch {
		case !existed:
			changes.Added = append(changes.Added, name)
		case old != newHashes[name]:
			changes.Modified = append(changes.Modified, name)
		}
	}
	for _, name := range prev.names {
		if _, keep := newSet[name]; !keep {
			changes.Removed = append(changes.Removed, name)
		}
	}

	// Reference movement is over hash sets, not names.
	oldHashSet := make(map[expr.Hash]struct{}, len(prev.hashes))
	for _, h := range prev.hashes {
		oldHashSet[h] = struct{}{}
	}
	newHashSet := make(map[expr.Hash]struct{}, len(newHashes))
	for _, h := range newHashes {
		newHashSet[h] = struct{}{}
	}
	var gained, released []expr.Hash
	for h := range newHashSet {
		if _, held := oldHashSet[h]; !held {
			gained = append(gained, h)
		}
	}
	for h := range oldHashSet {
		if _, kept := newHashSet[h]; !kept {
			released = append(released, h)
		}
	}
	sortHashes(gained)
	sortHashes(released)

	commitID := uuid.NewString()
	finish, err := s.beginCommit("reconcile_commons", commitID)
	if err != nil {
		return fail(err)
	}

	for _, name := range changes.Added {
		if _, err := s.Put(ctx, defs[name]); err != nil {
			return fail(err)
		}
	}
	for _, name := range changes.Modified {
		if _, err := s.Put(ctx, defs[name]); err != nil {
			return fail(err)
		}
	}
	for _, h := range gained {
		if err := s.AddReference(ctx, h); err != nil {
			return fail(err)
		}
	}

	// Table before releases, same recovery argument as the ledgers.
	lines := make([]string, len(orderedNames))
	for i, name := range orderedNames {
		lines[i] = name + " " + newHashes[name].String()
	}
	if err := writeListFile(s.path(commonsFileName), lines); err != nil {
		return fail(err)
	}

	for _, h := range released {
		if err := s.RemoveReference(ctx, h, true); err != nil && !errors.Is(err, ErrNotFound) {
			return fail(err)
		}
	}

	finish()

	next := &commonsTable{names: slices.Clone(orderedNames), hashes: newHashes}
	s.mu.Lock()
	s.commons = next
	s.mu.Unlock()

	observeChanges("commons", changes)
	if !changes.Empty() {
		s.logger.Info("commons reconciled", "commit_id", commitID, "changes", changes.String())
	}
	return changes, nil
}

// CommonHash returns the hash recorded for a common name. ErrNotFound
// when the table does not list it.
func (s *Store) CommonHash(name string) (expr.Hash, error) {
	t, err := s.ensureCommons()
	if err != nil {
		return expr.Hash{}, err
	}
	h, ok := t.hashes[name]
	if !ok {
		return expr.Hash{}, fmt.Errorf("store: common %q: %w", name, ErrNotFound)
	}
	return h, nil
}

// CommonNames returns the common names in stored order.
func (s *Store) CommonNames() ([]string, error) {
	t, err := s.ensureCommons()
	if err != nil {
		return nil, err
	}
	return slices.Clone(t.names), nil
}

// sortHashes orders hashes by their hex form for deterministic walks.
func sortHashes(hashes []expr.Hash) {
	slices.SortFunc(hashes, func(a, b expr.Hash) int {
		return strings.Compare(a.String(), b.String())
	})
}
