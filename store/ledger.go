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
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TheoryStore/expr"
)

// ReconcileStatements brings one statement ledger to the requested state.
//
// Description:
//
//	The caller supplies the complete desired ledger: every statement name
//	in authoring order plus each name's defining expression. The previous
//	ledger is read from the kind's list file and slot directories, the
//	two states are diffed, and only the difference is applied. Unchanged
//	names are not touched. Added and modified names store their
//	expression, gain a reference, and have their slot rewritten with an
//	emptied usedBy file (consumers of a replaced statement are void).
//	Removed names release their reference and lose their slot directory.
//	The list file is rewritten exactly in caller order, which makes the
//	caller's order authoritative even when nothing else changed.
//
//	The whole run is bracketed by a commit marker. An identical second
//	call reports empty Changes and rewrites nothing but the marker and
//	the list file.
//
// Inputs:
//   - kind: KindAxiom or KindTheorem.
//   - orderedNames: desired ledger in authoring order; no duplicates.
//   - defs: definition for every listed name. Extra keys are ignored.
//
// Outputs:
//   - Changes: names added, modified, and removed, in deterministic
//     order (added and modified follow orderedNames, removed follows the
//     previous ledger).
//   - error: validation failure, ErrCorrupt for an unreadable listed
//     slot, or the first write failure. A partial run leaves the marker
//     for the next Open to report; re-running the call converges.
func (s *Store) ReconcileStatements(ctx context.Context, kind Kind, orderedNames []string, defs map[string]expr.Expression) (Changes, error) {
	var changes Changes
	if err := s.guard(); err != nil {
		return changes, err
	}
	if !kind.Valid() {
		return changes, fmt.Errorf("store: unknown statement kind %q", kind)
	}
	ctx, span := tracer.Start(ctx, "store.ReconcileStatements",
		trace.WithAttributes(
			attribute.String("kind", string(kind)),
			attribute.Int("names", len(orderedNames)),
		),
	)
	defer span.End()
	timer := prometheus.NewTimer(reconcileSeconds.WithLabelValues(kind.plural()))
	defer timer.ObserveDuration()

	fail := func(err error) (Changes, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return changes, err
	}

	// Validate the requested state before touching anything.
	newSet := make(map[string]struct{}, len(orderedNames))
	for _, name := range orderedNames {
		if err := validateName(name); err != nil {
			return fail(err)
		}
		if _, dup := newSet[name]; dup {
			return fail(fmt.Errorf("store: duplicate %s name %q", kind, name))
		}
		newSet[name] = struct{}{}
		if defs[name] == nil {
			return fail(fmt.Errorf("store: no definition for %s %q", kind, name))
		}
	}

	prevNames, err := readLineFile(s.listPath(kind))
	if err != nil {
		return fail(err)
	}
	prevHashes := make(map[string]expr.Hash, len(prevNames))
	for _, name := range prevNames {
		h, err := s.readSlotHash(kind, name)
		if err != nil {
			return fail(err)
		}
		prevHashes[name] = h
	}

	// Hashing is pure, so the diff can use the values Put will arrive at.
	newHashes := make(map[string]expr.Hash, len(orderedNames))
	for _, name := range orderedNames {
		newHashes[name] = expr.HashOf(defs[name])
	}

	for _, name := range orderedNames {
		prev, existed := prevHashes[name]
		switch {
		case !existed:
			changes.Added = append(changes.Added, name)
		case prev != newHashes[name]:
			changes.Modified = append(changes.Modified, name)
		}
	}
	for _, name := range prevNames {
		if _, keep := newSet[name]; !keep {
			changes.Removed = append(changes.Removed, name)
		}
	}

	commitID := uuid.NewString()
	finish, err := s.beginCommit("reconcile_"+kind.plural(), commitID)
	if err != nil {
		return fail(err)
	}

	for _, name := range changes.Added {
		if err := s.installStatement(ctx, kind, name, defs[name], prevHashes[name]); err != nil {
			return fail(err)
		}
		s.logger.Debug("statement added", "kind", string(kind), "name", name, "hash", newHashes[name].Short())
	}
	for _, name := range changes.Modified {
		if err := s.installStatement(ctx, kind, name, defs[name], prevHashes[name]); err != nil {
			return fail(err)
		}
		s.logger.Debug("statement modified", "kind", string(kind), "name", name, "hash", newHashes[name].Short())
	}

	// The list is replaced before removed slots are destroyed, so an
	// interrupted run re-reads a consistent ledger. A slot orphaned in
	// that window leaks a reference; it never corrupts.
	if err := writeListFile(s.listPath(kind), orderedNames); err != nil {
		return fail(err)
	}

	for _, name := range changes.Removed {
		if err := s.RemoveReference(ctx, prevHashes[name], true); err != nil && !errors.Is(err, ErrNotFound) {
			return fail(err)
		}
		if err := os.RemoveAll(s.slotDir(kind, name)); err != nil {
			return fail(fmt.Errorf("store: remove slot %s/%s: %w", kind.plural(), name, err))
		}
		s.logger.Debug("statement removed", "kind", string(kind), "name", name, "hash", prevHashes[name].Short())
	}

	finish()
	observeChanges(kind.plural(), changes)
	if !changes.Empty() {
		s.logger.Info("statements reconciled",
			"kind", string(kind), "commit_id", commitID, "changes", changes.String())
	}
	return changes, nil
}

// installStatement stores a definition and points a named slot at it.
//
// The reference is taken before the slot is rewritten, and the previous
// hash is released last. Every crash window therefore leaks a count at
// worst; a slot never points at an unreferenced entry. A slot already
// recording the new hash means an interrupted run finished this name, so
// the install is skipped rather than double-counted.
func (s *Store) installStatement(ctx context.Context, kind Kind, name string, def expr.Expression, prev expr.Hash) error {
	h, err := s.Put(ctx, def)
	if err != nil {
		return err
	}
	if cur, ok := s.slotHashIfPresent(kind, name); ok && cur == h {
		return nil
	}
	if err := s.AddReference(ctx, h); err != nil {
		return err
	}
	if err := s.writeSlot(kind, name, h); err != nil {
		return err
	}
	if !prev.IsZero() && prev != h {
		if err := s.RemoveReference(ctx, prev, true); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// ===== Lookups =====

// StatementHash returns the hash a named statement currently resolves to.
// ErrNotFound when the name is not in the kind's ledger; ErrCorrupt when
// it is listed but its slot cannot be read.
func (s *Store) StatementHash(kind Kind, name string) (expr.Hash, error) {
	if err := s.guard(); err != nil {
		return expr.Hash{}, err
	}
	if !kind.Valid() {
		return expr.Hash{}, fmt.Errorf("store: unknown statement kind %q", kind)
	}
	names, err := readLineFile(s.listPath(kind))
	if err != nil {
		return expr.Hash{}, err
	}
	if !slices.Contains(names, name) {
		return expr.Hash{}, fmt.Errorf("store: %s %q: %w", kind, name, ErrNotFound)
	}
	return s.readSlotHash(kind, name)
}

// StatementNames returns the kind's ledger in stored order. An absent
// ledger is empty, not an error.
func (s *Store) StatementNames(kind Kind) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("store: unknown statement kind %q", kind)
	}
	return readLineFile(s.listPath(kind))
}

// UsedBy returns the consumers recorded against a named statement. This
// subsystem only ever resets the file; proof storage appends to it.
func (s *Store) UsedBy(kind Kind, name string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("store: unknown statement kind %q", kind)
	}
	names, err := readLineFile(s.listPath(kind))
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("store: %s %q: %w", kind, name, ErrNotFound)
	}
	return readLineFile(filepath.Join(s.slotDir(kind, name), usedByFileName))
}

// ===== Slot Files =====

// readSlotHash reads the hash recorded in a listed slot's entry file.
// Any failure on a listed slot is corruption.
func (s *Store) readSlotHash(kind Kind, name string) (expr.Hash, error) {
	data, err := os.ReadFile(filepath.Join(s.slotDir(kind, name), entryFileName))
	if err != nil {
		return expr.Hash{}, fmt.Errorf("store: slot %s/%s: %v: %w", kind.plural(), name, err, ErrCorrupt)
	}
	h, err := expr.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return expr.Hash{}, fmt.Errorf("store: slot %s/%s: %v: %w", kind.plural(), name, err, ErrCorrupt)
	}
	return h, nil
}

// slotHashIfPresent reads a slot's recorded hash for the crash-recovery
// skip in installStatement. Unreadable means absent here.
func (s *Store) slotHashIfPresent(kind Kind, name string) (expr.Hash, bool) {
	data, err := os.ReadFile(filepath.Join(s.slotDir(kind, name), entryFileName))
	if err != nil {
		return expr.Hash{}, false
	}
	h, err := expr.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return expr.Hash{}, false
	}
	return h, true
}

// writeSlot rewrites a slot's entry file and empties its usedBy file.
func (s *Store) writeSlot(kind Kind, name string, h expr.Hash) error {
	dir := s.slotDir(kind, name)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("store: create slot %s/%s: %w", kind.plural(), name, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, entryFileName), []byte(h.String()+"\n"), filePerm); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, usedByFileName), nil, filePerm)
}
