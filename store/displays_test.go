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
	"os"
	"reflect"
	"sort"
	"testing"

	"github.com/AleutianAI/TheoryStore/expr"
)

func TestSetDisplayed_PinsEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	if err := s.SetDisplayed(ctx, "notebook1", []expr.Hash{h}); err != nil {
		t.Fatalf("SetDisplayed() error = %v", err)
	}

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("Sweep() removed %d while displayed, want 0", removed)
	}

	if err := s.ClearDisplayed(ctx, "notebook1"); err != nil {
		t.Fatalf("ClearDisplayed() error = %v", err)
	}
	removed, err = s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d after clear, want 1", removed)
	}
}

func TestSetDisplayed_DiffsAgainstPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ha := mustPut(t, s, v("a"))
	hb := mustPut(t, s, v("b"))
	hc := mustPut(t, s, v("c"))

	if err := s.SetDisplayed(ctx, "nb", []expr.Hash{ha, hb}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDisplayed(ctx, "nb", []expr.Hash{hb, hc}); err != nil {
		t.Fatal(err)
	}

	if got := refCount(t, s, ha); got != 0 {
		t.Errorf("departed hash count = %d, want 0", got)
	}
	if got := refCount(t, s, hb); got != 1 {
		t.Errorf("retained hash count = %d, want 1", got)
	}
	if got := refCount(t, s, hc); got != 1 {
		t.Errorf("gained hash count = %d, want 1", got)
	}
}

func TestSetDisplayed_IdenticalSetIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	if err := s.SetDisplayed(ctx, "nb", []expr.Hash{h}); err != nil {
		t.Fatal(err)
	}
	// Duplicates in the request collapse into the set.
	if err := s.SetDisplayed(ctx, "nb", []expr.Hash{h, h}); err != nil {
		t.Fatal(err)
	}
	if got := refCount(t, s, h); got != 1 {
		t.Errorf("count after identical set = %d, want 1", got)
	}
}

func TestSetDisplayed_UnknownHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	known := mustPut(t, s, v("x"))
	unknown := expr.HashOf(v("ghost"))
	err := s.SetDisplayed(ctx, "nb", []expr.Hash{known, unknown})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetDisplayed() error = %v, want ErrNotFound", err)
	}

	// The rejected request must not have pinned the known hash.
	if got := refCount(t, s, known); got != 0 {
		t.Errorf("known hash count = %d, want 0", got)
	}
}

func TestSetDisplayed_FileHoldsSortedSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ha := mustPut(t, s, v("a"))
	hb := mustPut(t, s, v("b"))
	if err := s.SetDisplayed(ctx, "nb", []expr.Hash{ha, hb}); err != nil {
		t.Fatal(err)
	}

	lines, err := readLineFile(s.displayPath("nb"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{ha.String(), hb.String()}
	sort.Strings(want)
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("display file = %v, want sorted %v", lines, want)
	}
}

func TestSetDisplayed_EmptySetDeletesFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	if err := s.SetDisplayed(ctx, "nb", []expr.Hash{h}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearDisplayed(ctx, "nb"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.displayPath("nb")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("display file survived clearing: %v", err)
	}

	// Clearing an absent set stays a no-op.
	if err := s.ClearDisplayed(ctx, "nb"); err != nil {
		t.Errorf("ClearDisplayed() on absent set error = %v", err)
	}
}

func TestDisplayNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names, err := s.DisplayNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("DisplayNames() = %v, want empty", names)
	}

	h := mustPut(t, s, v("x"))
	for _, name := range []string{"editor", "notebook7"} {
		if err := s.SetDisplayed(ctx, name, []expr.Hash{h}); err != nil {
			t.Fatal(err)
		}
	}

	names, err = s.DisplayNames()
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"editor", "notebook7"}) {
		t.Errorf("DisplayNames() = %v, want [editor notebook7]", names)
	}
}

func TestSetDisplayed_SharedAcrossSets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := mustPut(t, s, v("x"))
	if err := s.SetDisplayed(ctx, "one", []expr.Hash{h}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDisplayed(ctx, "two", []expr.Hash{h}); err != nil {
		t.Fatal(err)
	}

	// Each set holds its own reference.
	if got := refCount(t, s, h); got != 2 {
		t.Errorf("count with two sets = %d, want 2", got)
	}
	if err := s.ClearDisplayed(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if got := refCount(t, s, h); got != 1 {
		t.Errorf("count after clearing one set = %d, want 1", got)
	}
}
