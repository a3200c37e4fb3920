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
	"path/filepath"
	"reflect"
	"testing"
)

func TestBuildSession_StateGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordReference("geometry"); !errors.Is(err, ErrBuildState) {
		t.Errorf("RecordReference before BeginBuild error = %v, want ErrBuildState", err)
	}
	if err := s.CommitBuild(ctx); !errors.Is(err, ErrBuildState) {
		t.Errorf("CommitBuild before BeginBuild error = %v, want ErrBuildState", err)
	}

	if _, err := s.BeginBuild(); err != nil {
		t.Fatalf("BeginBuild() error = %v", err)
	}
	if err := s.CommitBuild(ctx); err != nil {
		t.Fatalf("CommitBuild() error = %v", err)
	}
	if err := s.RecordReference("geometry"); !errors.Is(err, ErrBuildState) {
		t.Errorf("RecordReference after commit error = %v, want ErrBuildState", err)
	}
	if err := s.CommitBuild(ctx); !errors.Is(err, ErrBuildState) {
		t.Errorf("second CommitBuild error = %v, want ErrBuildState", err)
	}
}

func TestBuildSession_CollectsSortedSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BeginBuild(); err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{"zeta", "alpha", "alpha", "mid"} {
		if err := s.RecordReference(ref); err != nil {
			t.Fatalf("RecordReference(%q) error = %v", ref, err)
		}
	}
	if err := s.CommitBuild(ctx); err != nil {
		t.Fatal(err)
	}

	refs, err := s.ReferencedContexts()
	if err != nil {
		t.Fatalf("ReferencedContexts() error = %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("ReferencedContexts() = %v, want %v", refs, want)
	}
}

func TestBuildSession_DropsSelfReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BeginBuild(); err != nil {
		t.Fatal(err)
	}
	// The helper store opens under the context name "test".
	if err := s.RecordReference("test"); err != nil {
		t.Fatalf("RecordReference(self) error = %v", err)
	}
	if err := s.CommitBuild(ctx); err != nil {
		t.Fatal(err)
	}

	refs, err := s.ReferencedContexts()
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Errorf("ReferencedContexts() = %v, want empty", refs)
	}
}

func TestBeginBuild_DiscardsUncommittedSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BeginBuild(); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordReference("abandoned"); err != nil {
		t.Fatal(err)
	}

	id1, err := s.BeginBuild()
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.BeginBuild()
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Error("BeginBuild() reused a build id")
	}

	if err := s.RecordReference("kept"); err != nil {
		t.Fatal(err)
	}
	if err := s.CommitBuild(ctx); err != nil {
		t.Fatal(err)
	}

	refs, err := s.ReferencedContexts()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(refs, []string{"kept"}) {
		t.Errorf("ReferencedContexts() = %v, want [kept]", refs)
	}
}

func TestReferencedContexts_ReadsPersistedRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".theorystore")
	s1 := newTestStoreAt(t, dir)
	ctx := context.Background()

	if _, err := s1.BeginBuild(); err != nil {
		t.Fatal(err)
	}
	if err := s1.RecordReference("calculus"); err != nil {
		t.Fatal(err)
	}
	if err := s1.CommitBuild(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}

	s2 := newTestStoreAt(t, dir)
	refs, err := s2.ReferencedContexts()
	if err != nil {
		t.Fatalf("ReferencedContexts() error = %v", err)
	}
	if !reflect.DeepEqual(refs, []string{"calculus"}) {
		t.Errorf("ReferencedContexts() = %v, want [calculus]", refs)
	}
}

func TestReferencedContexts_AbsentRecord(t *testing.T) {
	s := newTestStore(t)
	refs, err := s.ReferencedContexts()
	if err != nil {
		t.Fatalf("ReferencedContexts() error = %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("ReferencedContexts() = %v, want empty", refs)
	}
}

func TestRecordReference_ValidatesName(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.BeginBuild(); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordReference(""); err == nil {
		t.Error("empty reference name expected error")
	}
	if err := s.RecordReference("bad/name"); err == nil {
		t.Error("reference name with separator expected error")
	}
}
