// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package theorystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TheoryStore/expr"
	"github.com/AleutianAI/TheoryStore/pkg/logging"
	"github.com/AleutianAI/TheoryStore/store"
)

// ===== Test Helpers =====

// newTestRegistry builds a Registry over in-memory entry databases with
// a quiet logger.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.Logger = logger.Slog()
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// mkContext creates a marked context directory under parent.
func mkContext(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfig().MarkerName), nil, 0o640))
	return dir
}

func v(core string) expr.Expression {
	return expr.NewNode("Variable", core)
}

func op(core string, subs ...expr.Expression) expr.Expression {
	return expr.NewNode("Operation", core, subs...)
}

// ===== Resolution =====

func TestResolve_RequiresMarker(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	unmarked := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.MkdirAll(unmarked, 0o750))
	_, err := r.Resolve(ctx, unmarked)
	assert.ErrorIs(t, err, ErrNotAContext)

	_, err = r.Resolve(ctx, filepath.Join(t.TempDir(), "does-not-exist"))
	assert.ErrorIs(t, err, ErrNotAContext)
}

func TestResolve_SingletonPerDirectory(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	dir := mkContext(t, t.TempDir(), "trig")

	c1, err := r.Resolve(ctx, dir)
	require.NoError(t, err)
	c2, err := r.Resolve(ctx, dir)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "one directory must resolve to one Context")
}

func TestResolve_DottedNamesFromMarkedParents(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	base := t.TempDir()
	root := mkContext(t, base, "trig")
	mid := mkContext(t, root, "identities")
	leaf := mkContext(t, mid, "inverse")

	c, err := r.Resolve(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, "trig.identities.inverse", c.FullName())
	assert.Equal(t, "inverse", c.Name())

	// The climb registered the topmost marked ancestor as a root.
	assert.Contains(t, r.RootNames(), "trig")

	// An unmarked directory breaks the chain: a marked child below it
	// anchors its own root.
	plain := filepath.Join(base, "misc")
	require.NoError(t, os.MkdirAll(plain, 0o750))
	island := mkContext(t, plain, "island")
	c, err = r.Resolve(ctx, island)
	require.NoError(t, err)
	assert.Equal(t, "island", c.FullName())
}

func TestResolve_SymlinkAliasesShareContext(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	base := t.TempDir()
	real := mkContext(t, base, "calculus")
	link := filepath.Join(base, "calc-link")
	require.NoError(t, os.Symlink(real, link))

	c1, err := r.Resolve(ctx, real)
	require.NoError(t, err)
	c2, err := r.Resolve(ctx, link)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "symlink alias must not open a second store")
}

func TestResolve_RedirectsOutOfStorageAndProofs(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	dir := mkContext(t, t.TempDir(), "trig")

	c, err := r.Resolve(ctx, dir)
	require.NoError(t, err)

	// Deep inside the storage root, including components that do not
	// exist yet.
	inStorage := filepath.Join(dir, DefaultConfig().StorageDirName, "entries", "000123")
	got, err := r.Resolve(ctx, inStorage)
	require.NoError(t, err)
	assert.Same(t, c, got)

	inProofs := filepath.Join(dir, DefaultConfig().ProofsDirName, "pyth", "step3")
	got, err = r.Resolve(ctx, inProofs)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

// ===== Roots =====

func TestRegisterRoot(t *testing.T) {
	r := newTestRegistry(t)

	dirA := mkContext(t, t.TempDir(), "main")
	dirB := mkContext(t, t.TempDir(), "main")

	require.NoError(t, r.RegisterRoot("main", dirA))
	assert.NoError(t, r.RegisterRoot("main", dirA), "identical re-registration is a no-op")
	assert.ErrorIs(t, r.RegisterRoot("main", dirB), ErrRootConflict)

	assert.Error(t, r.RegisterRoot("bad.name", dirA))
	assert.Error(t, r.RegisterRoot("", dirA))
}

func TestResolve_AutoRegisterConflict(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	claimed := mkContext(t, t.TempDir(), "trig")
	require.NoError(t, r.RegisterRoot("trig", claimed))

	// A different directory with the same base name cannot mint the name.
	other := mkContext(t, t.TempDir(), "trig")
	_, err := r.Resolve(ctx, other)
	assert.ErrorIs(t, err, ErrRootConflict)
}

func TestNewRegistry_PreRegistersRoots(t *testing.T) {
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { logger.Close() })

	dir := mkContext(t, t.TempDir(), "main")
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.Logger = logger.Slog()
	cfg.Roots = map[string]string{"main": dir}

	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	assert.Equal(t, []string{"main"}, r.RootNames())

	// Roots must exist at construction time.
	cfg.Roots = map[string]string{"ghost": filepath.Join(t.TempDir(), "missing")}
	_, err = NewRegistry(cfg)
	assert.Error(t, err)
}

// ===== Names =====

func TestByName(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	root := mkContext(t, t.TempDir(), "trig")
	mkContext(t, root, "identities")
	require.NoError(t, r.RegisterRoot("trig", root))

	c, err := r.ByName(ctx, "trig.identities")
	require.NoError(t, err)
	assert.Equal(t, "trig.identities", c.FullName())

	c, err = r.ByName(ctx, "trig")
	require.NoError(t, err)
	assert.Equal(t, "trig", c.FullName())

	_, err = r.ByName(ctx, "unregistered.sub")
	assert.ErrorIs(t, err, ErrUnknownRoot)
}

func TestFindAxiomAndTheorem(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	root := mkContext(t, t.TempDir(), "trig")
	c, err := r.Resolve(ctx, root)
	require.NoError(t, err)

	sinDef := op("Equals", v("sinSquared"), op("Minus", v("one"), v("cosSquared")))
	_, err = c.ReconcileAxioms(ctx, []string{"sinDef"}, map[string]expr.Expression{"sinDef": sinDef})
	require.NoError(t, err)
	_, err = c.ReconcileTheorems(ctx, []string{"pyth"}, map[string]expr.Expression{"pyth": v("placeholder")})
	require.NoError(t, err)

	got, err := r.FindAxiom(ctx, "trig.sinDef")
	require.NoError(t, err)
	assert.Equal(t, expr.HashOf(sinDef), expr.HashOf(got))

	_, err = r.FindTheorem(ctx, "trig.pyth")
	assert.NoError(t, err)

	_, err = r.FindAxiom(ctx, "trig.missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// A theorem name does not resolve as an axiom.
	_, err = r.FindAxiom(ctx, "trig.pyth")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.FindAxiom(ctx, "unqualified")
	assert.Error(t, err)
	_, err = r.FindAxiom(ctx, "trailing.")
	assert.Error(t, err)
}

// ===== Lifecycle =====

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	dir := mkContext(t, t.TempDir(), "trig")

	c, err := r.Resolve(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close(), "second Close is a no-op")

	_, err = r.Resolve(ctx, dir)
	assert.ErrorIs(t, err, store.ErrClosed)

	// The context's storage went down with the registry.
	_, err = c.AxiomNames()
	assert.ErrorIs(t, err, store.ErrClosed)
}
