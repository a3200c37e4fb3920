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
	"testing"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/TheoryStore/expr"
)

// ===== Put =====

func TestPut_Deterministic(t *testing.T) {
	s := newTestStore(t)

	h1 := mustPut(t, s, op("Sin", v("theta")))
	h2 := mustPut(t, s, op("Sin", v("theta")))
	if h1 != h2 {
		t.Errorf("Put returned different hashes for equal expressions: %s vs %s", h1.Short(), h2.Short())
	}

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// Sin node plus theta leaf, stored once.
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestPut_SharesSubtrees(t *testing.T) {
	s := newTestStore(t)

	mustPut(t, s, op("Sin", v("theta")))
	mustPut(t, s, op("Cos", v("theta")))

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// Sin, Cos, and one shared theta.
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestPut_PinsChildren(t *testing.T) {
	s := newTestStore(t)

	parent := mustPut(t, s, op("Sin", v("theta")))
	child := expr.HashOf(v("theta"))

	if got := refCount(t, s, parent); got != 0 {
		t.Errorf("parent count = %d, want 0", got)
	}
	if got := refCount(t, s, child); got != 1 {
		t.Errorf("child count = %d, want 1", got)
	}

	// Re-storing an existing expression pins nothing further.
	mustPut(t, s, op("Sin", v("theta")))
	if got := refCount(t, s, child); got != 1 {
		t.Errorf("child count after duplicate Put = %d, want 1", got)
	}
}

func TestPut_PinsRepeatedChildPerPosition(t *testing.T) {
	s := newTestStore(t)

	mustPut(t, s, op("Plus", v("x"), v("x")))
	child := expr.HashOf(v("x"))

	if got := refCount(t, s, child); got != 2 {
		t.Errorf("repeated child count = %d, want 2", got)
	}
}

func TestPut_NilExpression(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Put(context.Background(), nil); err == nil {
		t.Error("Put(nil) expected error")
	}
}

// ===== Reference Counts =====

func TestReferences_AddRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	if err := s.AddReference(ctx, h); err != nil {
		t.Fatalf("AddReference() error = %v", err)
	}
	if got := refCount(t, s, h); got != 1 {
		t.Errorf("count after add = %d, want 1", got)
	}
	if err := s.RemoveReference(ctx, h, false); err != nil {
		t.Fatalf("RemoveReference() error = %v", err)
	}
	if got := refCount(t, s, h); got != 0 {
		t.Errorf("count after remove = %d, want 0", got)
	}
}

func TestRemoveReference_FloorsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	if err := s.RemoveReference(ctx, h, false); err != nil {
		t.Fatalf("RemoveReference() on zero count error = %v", err)
	}
	if got := refCount(t, s, h); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestReferences_UnknownHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unknown := expr.HashOf(v("never-stored"))
	if err := s.AddReference(ctx, unknown); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddReference error = %v, want ErrNotFound", err)
	}
	if err := s.RemoveReference(ctx, unknown, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveReference error = %v, want ErrNotFound", err)
	}
	if _, err := s.ReferenceCount(ctx, unknown); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReferenceCount error = %v, want ErrNotFound", err)
	}
}

// ===== Resolve =====

func TestResolve_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	original := op("Equals", op("Power", v("c"), v("two")), op("Plus", op("Power", v("a"), v("two")), op("Power", v("b"), v("two"))))
	h := mustPut(t, s, original)

	got, err := s.Resolve(context.Background(), h)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if expr.HashOf(got) != h {
		t.Errorf("resolved expression re-hashes to %s, want %s", expr.HashOf(got).Short(), h.Short())
	}
	if fmt.Sprint(got) != fmt.Sprint(original) {
		t.Errorf("resolved = %v, want %v", got, original)
	}
}

func TestResolve_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Resolve(context.Background(), expr.HashOf(v("missing")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound", err)
	}
}

func TestResolve_DanglingChild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, op("Sin", v("theta")))
	child := expr.HashOf(v("theta"))

	// Destroy the child record underneath the parent.
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(exprKey(child))
	})
	if err != nil {
		t.Fatalf("deleting child record: %v", err)
	}

	if _, err := s.Resolve(ctx, h); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Resolve with dangling child error = %v, want ErrCorrupt", err)
	}
}

func TestResolve_MangledRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(exprKey(h), []byte("not a record"))
	})
	if err != nil {
		t.Fatalf("mangling record: %v", err)
	}

	if _, err := s.Resolve(ctx, h); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Resolve of mangled record error = %v, want ErrCorrupt", err)
	}
}

func TestResolve_HashMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	other, _ := expr.BuildRecord(v("y"))
	data, err := other.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// Store y's record under x's key.
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(exprKey(h), data)
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Resolve(ctx, h); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Resolve with hash mismatch error = %v, want ErrCorrupt", err)
	}
}

// ===== Sweep =====

func TestSweep_RemovesOnlyUnreferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := mustPut(t, s, op("Sin", v("theta")))
	if err := s.AddReference(ctx, parent); err != nil {
		t.Fatal(err)
	}

	// Parent is held and theta is pinned by the parent.
	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("Sweep() removed %d, want 0", removed)
	}

	if err := s.RemoveReference(ctx, parent, false); err != nil {
		t.Fatal(err)
	}
	removed, err = s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d, want 1 (the parent)", removed)
	}
	if _, err := s.Resolve(ctx, parent); !errors.Is(err, ErrNotFound) {
		t.Errorf("swept entry still resolvable: %v", err)
	}

	// Theta keeps the pin it gained at the parent's creation; counts
	// never cascade, so a second pass finds nothing.
	removed, err = s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("second Sweep() removed %d, want 0", removed)
	}
}

func TestSweep_CrossesBatchBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// More unreferenced leaves than one delete batch holds.
	total := sweepBatchSize + 300
	for i := 0; i < total; i++ {
		mustPut(t, s, v(fmt.Sprintf("v%d", i)))
	}

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != total {
		t.Errorf("Sweep() removed %d, want %d", removed, total)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count() after sweep = %d, want 0", n)
	}
}

func TestCount_Empty(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}
