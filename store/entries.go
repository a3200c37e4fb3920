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

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/TheoryStore/expr"
)

// maxNodeDepth bounds expression nesting for both storage and resolution.
// Resolution hitting the bound indicates a corrupt (cyclic) record graph.
const maxNodeDepth = 512

// sweepBatchSize caps deletions per transaction during a sweep.
const sweepBatchSize = 1024

// ===== Put =====

// Put stores an expression and every sub-expression it contains.
//
// Description:
//
//	Post-order walk, children first. Each node's canonical record is
//	hashed over its kind, core, and ordered child hashes; display styles
//	never enter the hash domain or the persisted record. A node whose
//	hash already has an entry is left untouched, so structurally equal
//	expressions share storage and re-storing is free. A freshly created
//	entry starts at reference count zero and adds one reference to each
//	direct child, which pins shared subtrees independently of their
//	parents.
//
// Inputs:
//   - ctx: tracing only; the walk is not cancellable mid-transaction.
//   - e: expression to store. Must be finite; nesting beyond maxNodeDepth
//     is rejected.
//
// Outputs:
//   - expr.Hash: content hash of the root node.
//   - error: nil on success.
func (s *Store) Put(ctx context.Context, e expr.Expression) (expr.Hash, error) {
	if err := s.guard(); err != nil {
		return expr.Hash{}, err
	}
	if e == nil {
		return expr.Hash{}, fmt.Errorf("store: nil expression")
	}
	_, span := tracer.Start(ctx, "store.Put")
	defer span.End()

	var root expr.Hash
	err := s.db.Update(func(txn *badger.Txn) error {
		h, err := s.putNode(txn, e, 0)
		root = h
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		entryOps.WithLabelValues("put", "error").Inc()
		return expr.Hash{}, err
	}
	span.SetAttributes(attribute.String("hash", root.Short()))
	entryOps.WithLabelValues("put", "ok").Inc()
	return root, nil
}

// putNode stores one node after its children and returns its hash.
func (s *Store) putNode(txn *badger.Txn, e expr.Expression, depth int) (expr.Hash, error) {
	if depth > maxNodeDepth {
		return expr.Hash{}, fmt.Errorf("store: expression nesting exceeds %d", maxNodeDepth)
	}
	subs := e.SubExpressions()
	childHashes := make([]expr.Hash, len(subs))
	for i, sub := range subs {
		h, err := s.putNode(txn, sub, depth+1)
		if err != nil {
			return expr.Hash{}, err
		}
		childHashes[i] = h
	}
	h := expr.HashParts(e.Kind(), e.Core(), childHashes)

	_, err := txn.Get(exprKey(h))
	switch {
	case err == nil:
		// Already stored; its children were pinned when it first landed.
		return h, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return expr.Hash{}, fmt.Errorf("store: probe entry %s: %w", h.Short(), err)
	}

	rec := expr.Record{Kind: e.Kind(), Core: e.Core(), Subs: make([]string, len(childHashes))}
	for i, ch := range childHashes {
		rec.Subs[i] = ch.String()
	}
	data, err := rec.Encode()
	if err != nil {
		return expr.Hash{}, err
	}
	if err := txn.Set(exprKey(h), data); err != nil {
		return expr.Hash{}, fmt.Errorf("store: write entry %s: %w", h.Short(), err)
	}
	if err := txn.Set(refsKey(h), encodeCount(0)); err != nil {
		return expr.Hash{}, fmt.Errorf("store: write count %s: %w", h.Short(), err)
	}
	for _, ch := range childHashes {
		if err := s.bumpRef(txn, ch, +1); err != nil {
			return expr.Hash{}, err
		}
	}
	return h, nil
}

// ===== Reference Counting =====

// AddReference adds one reference to a stored entry. ErrNotFound when no
// entry exists for h.
func (s *Store) AddReference(ctx context.Context, h expr.Hash) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, span := tracer.Start(ctx, "store.AddReference")
	defer span.End()

	err := s.db.Update(func(txn *badger.Txn) error {
		return s.bumpRef(txn, h, +1)
	})
	if err != nil {
		span.RecordError(err)
		entryOps.WithLabelValues("add_ref", "error").Inc()
		return err
	}
	entryOps.WithLabelValues("add_ref", "ok").Inc()
	return nil
}

// RemoveReference releases one reference from a stored entry.
//
// Description:
//
//	The count floors at zero; an underflow is logged, never stored.
//	special distinguishes a named slot release (axiom, theorem, common)
//	from a display-set release. The distinction is bookkeeping only; the
//	count semantics are identical.
//
// Outputs:
//   - error: ErrNotFound when no entry exists for h.
func (s *Store) RemoveReference(ctx context.Context, h expr.Hash, special bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, span := tracer.Start(ctx, "store.RemoveReference")
	defer span.End()

	op := "remove_ref_display"
	if special {
		op = "remove_ref_special"
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return s.bumpRef(txn, h, -1)
	})
	if err != nil {
		span.RecordError(err)
		entryOps.WithLabelValues(op, "error").Inc()
		return err
	}
	s.logger.Debug("reference released", "hash", h.Short(), "special", special)
	entryOps.WithLabelValues(op, "ok").Inc()
	return nil
}

// bumpRef adjusts an entry's reference count inside txn. Decrements floor
// at zero; the underflow is logged rather than stored.
func (s *Store) bumpRef(txn *badger.Txn, h expr.Hash, delta int64) error {
	item, err := txn.Get(refsKey(h))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("store: no entry for %s: %w", h.Short(), ErrNotFound)
		}
		return fmt.Errorf("store: read count for %s: %w", h.Short(), err)
	}
	var count uint64
	if err := item.Value(func(val []byte) error {
		c, derr := decodeCount(val)
		count = c
		return derr
	}); err != nil {
		return fmt.Errorf("store: count for %s: %w", h.Short(), err)
	}

	var next uint64
	if delta >= 0 {
		next = count + uint64(delta)
	} else if dec := uint64(-delta); count < dec {
		s.logger.Warn("reference count underflow", "hash", h.Short(), "count", count)
		next = 0
	} else {
		next = count - dec
	}
	if err := txn.Set(refsKey(h), encodeCount(next)); err != nil {
		return fmt.Errorf("store: write count for %s: %w", h.Short(), err)
	}
	return nil
}

// ReferenceCount returns an entry's current reference count. ErrNotFound
// when no entry exists for h. Diagnostic surface; authoring code never
// needs it.
func (s *Store) ReferenceCount(ctx context.Context, h expr.Hash) (uint64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refsKey(h))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("store: no entry for %s: %w", h.Short(), ErrNotFound)
			}
			return fmt.Errorf("store: read count for %s: %w", h.Short(), err)
		}
		return item.Value(func(val []byte) error {
			c, derr := decodeCount(val)
			count = c
			return derr
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ===== Resolve =====

// Resolve reconstructs the expression stored under h.
//
// Description:
//
//	Decodes the record for h and recursively resolves its children into
//	a fresh node tree. The stored graph is trusted only so far: a
//	missing child record, malformed record bytes, a nesting depth past
//	maxNodeDepth, or a root that re-hashes to a different value all
//	surface as ErrCorrupt. Only a missing top-level entry is ErrNotFound.
//
// Outputs:
//   - expr.Expression: the reconstructed tree. Styles are not stored, so
//     the result carries none.
//   - error: ErrNotFound or ErrCorrupt as above.
func (s *Store) Resolve(ctx context.Context, h expr.Hash) (expr.Expression, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	_, span := tracer.Start(ctx, "store.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("hash", h.Short()))

	var root expr.Expression
	err := s.db.View(func(txn *badger.Txn) error {
		e, err := s.resolveNode(txn, h, 0)
		root = e
		return err
	})
	if err == nil {
		if got := expr.HashOf(root); got != h {
			err = fmt.Errorf("store: entry %s re-hashes to %s: %w", h.Short(), got.Short(), ErrCorrupt)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		entryOps.WithLabelValues("resolve", "error").Inc()
		return nil, err
	}
	entryOps.WithLabelValues("resolve", "ok").Inc()
	return root, nil
}

// resolveNode decodes one record and resolves its children.
func (s *Store) resolveNode(txn *badger.Txn, h expr.Hash, depth int) (expr.Expression, error) {
	if depth > maxNodeDepth {
		return nil, fmt.Errorf("store: resolution depth exceeds %d at %s: %w", maxNodeDepth, h.Short(), ErrCorrupt)
	}
	item, err := txn.Get(exprKey(h))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			if depth == 0 {
				return nil, fmt.Errorf("store: no entry for %s: %w", h.Short(), ErrNotFound)
			}
			return nil, fmt.Errorf("store: dangling child %s: %w", h.Short(), ErrCorrupt)
		}
		return nil, fmt.Errorf("store: read entry %s: %w", h.Short(), err)
	}
	var rec expr.Record
	if err := item.Value(func(val []byte) error {
		r, derr := expr.DecodeRecord(val)
		rec = r
		return derr
	}); err != nil {
		return nil, fmt.Errorf("store: entry %s: %v: %w", h.Short(), err, ErrCorrupt)
	}
	subHashes, err := rec.SubHashes()
	if err != nil {
		return nil, fmt.Errorf("store: entry %s: %v: %w", h.Short(), err, ErrCorrupt)
	}
	subs := make([]expr.Expression, len(subHashes))
	for i, sh := range subHashes {
		sub, err := s.resolveNode(txn, sh, depth+1)
		if err != nil {
			return nil, err
		}
		subs[i] = sub
	}
	return expr.NewNode(rec.Kind, rec.Core, subs...), nil
}

// ===== Sweep =====

// Sweep removes every entry whose reference count is zero.
//
// Description:
//
//	Single linear pass over the count keyspace. Children of a swept
//	entry are not decremented; they were pinned independently when their
//	parent was first stored, so an unreferenced parent never drags live
//	shared subtrees out with it. Entries freed to zero by an earlier
//	release become sweepable on the next pass. Render artifacts for each
//	swept hash are deleted alongside it, and the value log GC is nudged
//	once at the end.
//
// Outputs:
//   - int: number of entries removed.
//   - error: nil on success; a partial sweep reports entries removed so
//     far alongside the failure.
//
// Thread Safety:
//   - Must not run concurrently with reconciliation on the same Store.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	_, span := tracer.Start(ctx, "store.Sweep")
	defer span.End()

	var victims []expr.Hash
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(refsKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var count uint64
			if err := item.Value(func(val []byte) error {
				c, derr := decodeCount(val)
				count = c
				return derr
			}); err != nil {
				return fmt.Errorf("store: count key %q: %w", item.Key(), err)
			}
			if count != 0 {
				continue
			}
			h, err := hashFromRefsKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			victims = append(victims, h)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep scan failed")
		return 0, err
	}

	removed := 0
	for start := 0; start < len(victims); start += sweepBatchSize {
		batch := victims[start:min(start+sweepBatchSize, len(victims))]
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, h := range batch {
				if err := txn.Delete(exprKey(h)); err != nil {
					return fmt.Errorf("store: delete entry %s: %w", h.Short(), err)
				}
				if err := txn.Delete(refsKey(h)); err != nil {
					return fmt.Errorf("store: delete count %s: %w", h.Short(), err)
				}
			}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sweep delete failed")
			return removed, err
		}
		removed += len(batch)
		for _, h := range batch {
			s.removeRenderArtifacts(h)
		}
	}

	s.runValueGC()
	sweptEntries.Add(float64(removed))
	span.SetAttributes(attribute.Int("removed", removed))
	s.logger.Info("sweep completed", "removed", removed)
	return removed, nil
}

// Count returns the number of persisted entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(exprKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: count entries: %w", err)
	}
	return n, nil
}

// hasEntry reports whether a record exists for h.
func (s *Store) hasEntry(txn *badger.Txn, h expr.Hash) (bool, error) {
	_, err := txn.Get(exprKey(h))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("store: probe entry %s: %w", h.Short(), err)
	}
}
