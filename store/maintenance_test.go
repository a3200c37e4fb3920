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
	"reflect"
	"testing"

	"github.com/AleutianAI/TheoryStore/expr"
)

func TestSubContexts(t *testing.T) {
	s := newTestStore(t)

	names, err := s.SubContexts()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("SubContexts() = %v, want empty", names)
	}

	if err := s.SetSubContexts([]string{"geometry", "algebra"}); err != nil {
		t.Fatalf("SetSubContexts() error = %v", err)
	}
	names, err = s.SubContexts()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"geometry", "algebra"}) {
		t.Errorf("SubContexts() = %v, want [geometry algebra]", names)
	}

	if err := s.AppendSubContext("algebra"); err != nil {
		t.Fatalf("AppendSubContext(duplicate) error = %v", err)
	}
	if err := s.AppendSubContext("analysis"); err != nil {
		t.Fatalf("AppendSubContext() error = %v", err)
	}
	names, err = s.SubContexts()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"geometry", "algebra", "analysis"}) {
		t.Errorf("SubContexts() = %v, want [geometry algebra analysis]", names)
	}

	if err := s.SetSubContexts([]string{"dup", "dup"}); err == nil {
		t.Error("SetSubContexts with duplicate expected error")
	}
	if err := s.SetSubContexts([]string{"bad/name"}); err == nil {
		t.Error("SetSubContexts with separator expected error")
	}
}

func TestSpecialName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	axDef := op("Sin", v("theta"))
	thmDef := op("Cos", v("theta"))
	commonDef := v("3.14159")

	if _, err := s.ReconcileStatements(ctx, KindAxiom,
		[]string{"euclid5"}, map[string]expr.Expression{"euclid5": axDef}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReconcileStatements(ctx, KindTheorem,
		[]string{"pyth"}, map[string]expr.Expression{"pyth": thmDef}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReconcileCommons(ctx,
		[]string{"pi"}, map[string]expr.Expression{"pi": commonDef}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		give     expr.Hash
		wantKind Kind
		wantName string
		wantOK   bool
	}{
		{expr.HashOf(axDef), KindAxiom, "euclid5", true},
		{expr.HashOf(thmDef), KindTheorem, "pyth", true},
		{expr.HashOf(commonDef), KindCommon, "pi", true},
		{expr.HashOf(v("theta")), "", "", false},
		{expr.HashOf(v("nowhere")), "", "", false},
	}
	for _, tt := range tests {
		kind, name, ok, err := s.SpecialName(tt.give)
		if err != nil {
			t.Fatalf("SpecialName(%s) error = %v", tt.give.Short(), err)
		}
		if kind != tt.wantKind || name != tt.wantName || ok != tt.wantOK {
			t.Errorf("SpecialName(%s) = (%q, %q, %v), want (%q, %q, %v)",
				tt.give.Short(), kind, name, ok, tt.wantKind, tt.wantName, tt.wantOK)
		}
	}
}
