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
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/TheoryStore/expr"
	"github.com/AleutianAI/TheoryStore/store"
)

// Context is the singleton handle for one resolved context directory.
// It wraps the directory's persistent storage and carries the dotted
// full name used in cross-context references.
type Context struct {
	registry *Registry
	dir      string
	fullName string
	store    *store.Store
}

// FullName returns the dotted full name, root segment first.
func (c *Context) FullName() string {
	return c.fullName
}

// Name returns the last segment of the full name.
func (c *Context) Name() string {
	if i := strings.LastIndex(c.fullName, "."); i >= 0 {
		return c.fullName[i+1:]
	}
	return c.fullName
}

// Dir returns the canonical context directory.
func (c *Context) Dir() string {
	return c.dir
}

// Store exposes the underlying statement storage for the storage-level
// surface (render caching, display reference sets, raw entry access).
func (c *Context) Store() *store.Store {
	return c.store
}

// ===== Statements =====

// ReconcileAxioms brings the axiom ledger to the given ordered state.
func (c *Context) ReconcileAxioms(ctx context.Context, orderedNames []string, defs map[string]expr.Expression) (store.Changes, error) {
	return c.store.ReconcileStatements(ctx, store.KindAxiom, orderedNames, defs)
}

// ReconcileTheorems brings the theorem ledger to the given ordered state.
func (c *Context) ReconcileTheorems(ctx context.Context, orderedNames []string, defs map[string]expr.Expression) (store.Changes, error) {
	return c.store.ReconcileStatements(ctx, store.KindTheorem, orderedNames, defs)
}

// ReconcileCommons brings the common expression table to the given
// ordered state.
func (c *Context) ReconcileCommons(ctx context.Context, orderedNames []string, defs map[string]expr.Expression) (store.Changes, error) {
	return c.store.ReconcileCommons(ctx, orderedNames, defs)
}

// Axiom returns a named axiom's defining expression.
func (c *Context) Axiom(ctx context.Context, name string) (expr.Expression, error) {
	return c.statement(ctx, store.KindAxiom, name)
}

// Theorem returns a named theorem's defining expression.
func (c *Context) Theorem(ctx context.Context, name string) (expr.Expression, error) {
	return c.statement(ctx, store.KindTheorem, name)
}

// Common returns a named common expression.
func (c *Context) Common(ctx context.Context, name string) (expr.Expression, error) {
	h, err := c.store.CommonHash(name)
	if err != nil {
		return nil, err
	}
	return c.store.Resolve(ctx, h)
}

func (c *Context) statement(ctx context.Context, kind store.Kind, name string) (expr.Expression, error) {
	h, err := c.store.StatementHash(kind, name)
	if err != nil {
		return nil, err
	}
	return c.store.Resolve(ctx, h)
}

// AxiomNames returns the axiom ledger in authoring order.
func (c *Context) AxiomNames() ([]string, error) {
	return c.store.StatementNames(store.KindAxiom)
}

// TheoremNames returns the theorem ledger in authoring order.
func (c *Context) TheoremNames() ([]string, error) {
	return c.store.StatementNames(store.KindTheorem)
}

// CommonNames returns the common names in authoring order.
func (c *Context) CommonNames() ([]string, error) {
	return c.store.CommonNames()
}

// ===== Build Sessions =====

// BeginBuild opens a build session on this context's storage.
func (c *Context) BeginBuild() (string, error) {
	return c.store.BeginBuild()
}

// RecordReference notes a foreign context referenced by the running
// build.
func (c *Context) RecordReference(other string) error {
	return c.store.RecordReference(other)
}

// CommitBuild persists the running build's reference record.
func (c *Context) CommitBuild(ctx context.Context) error {
	return c.store.CommitBuild(ctx)
}

// ReferencedContexts returns the context names this context's statements
// reference.
func (c *Context) ReferencedContexts() ([]string, error) {
	return c.store.ReferencedContexts()
}

// CheckMutual looks for a direct dependency cycle with another context.
//
// Description:
//
//	Walks this context's reference record; each referenced context is
//	resolved through the registry and its own record is checked for
//	this context's name. The first context referencing back is
//	returned. Names that no longer resolve are skipped, a record may
//	outlive the contexts it mentions. Longer cycles through a third
//	context are never detected.
//
// Outputs:
//   - string: the counterpart's full name, empty when no cycle exists.
func (c *Context) CheckMutual(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "context.CheckMutual")
	defer span.End()

	refs, err := c.store.ReferencedContexts()
	if err != nil {
		return "", err
	}
	for _, name := range refs {
		other, err := c.registry.ByName(ctx, name)
		if err != nil {
			if errors.Is(err, ErrUnknownRoot) || errors.Is(err, ErrNotAContext) {
				c.registry.logger.Debug("mutual check skipped unresolvable context",
					"context", c.fullName, "referenced", name)
				continue
			}
			return "", err
		}
		theirRefs, err := other.store.ReferencedContexts()
		if err != nil {
			return "", err
		}
		if slices.Contains(theirRefs, c.fullName) {
			return other.fullName, nil
		}
	}
	return "", nil
}

// RequireNoMutual is the rejection policy over CheckMutual: it returns
// ErrMutualDependency naming both contexts when a cycle exists.
func (c *Context) RequireNoMutual(ctx context.Context) error {
	other, err := c.CheckMutual(ctx)
	if err != nil {
		return err
	}
	if other != "" {
		return fmt.Errorf("theorystore: %s and %s reference each other: %w",
			c.fullName, other, ErrMutualDependency)
	}
	return nil
}

// ===== Maintenance =====

// Sweep removes unreferenced entries from this context's storage.
func (c *Context) Sweep(ctx context.Context) (int, error) {
	return c.store.Sweep(ctx)
}

// StoredCount returns the number of persisted entries. Diagnostics.
func (c *Context) StoredCount(ctx context.Context) (int, error) {
	return c.store.Count(ctx)
}

// Clear empties this context: both statement ledgers, the commons
// table, and every display set, then sweeps the freed entries.
func (c *Context) Clear(ctx context.Context) error {
	if _, err := c.store.ReconcileStatements(ctx, store.KindAxiom, nil, nil); err != nil {
		return err
	}
	if _, err := c.store.ReconcileStatements(ctx, store.KindTheorem, nil, nil); err != nil {
		return err
	}
	if _, err := c.store.ReconcileCommons(ctx, nil, nil); err != nil {
		return err
	}
	displays, err := c.store.DisplayNames()
	if err != nil {
		return err
	}
	for _, name := range displays {
		if err := c.store.ClearDisplayed(ctx, name); err != nil {
			return err
		}
	}
	removed, err := c.store.Sweep(ctx)
	if err != nil {
		return err
	}
	c.registry.logger.Info("context cleared", "context", c.fullName, "swept", removed)
	return nil
}

// ClearAll clears every resolvable sub-context depth-first, then this
// context. Sub-contexts listed but no longer resolvable are skipped.
func (c *Context) ClearAll(ctx context.Context) error {
	subs, err := c.store.SubContexts()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		child, err := c.registry.Resolve(ctx, filepath.Join(c.dir, sub))
		if err != nil {
			if errors.Is(err, ErrNotAContext) {
				c.registry.logger.Warn("skipping unresolvable sub-context",
					"context", c.fullName, "sub", sub)
				continue
			}
			return err
		}
		if err := child.ClearAll(ctx); err != nil {
			return err
		}
	}
	return c.Clear(ctx)
}

// SubContexts returns the ordered nested context names.
func (c *Context) SubContexts() ([]string, error) {
	return c.store.SubContexts()
}

// SetSubContexts replaces the nested context list.
func (c *Context) SetSubContexts(names []string) error {
	return c.store.SetSubContexts(names)
}

// AppendSubContext appends a nested context name unless already listed.
func (c *Context) AppendSubContext(name string) error {
	return c.store.AppendSubContext(name)
}

// SpecialName reports which axiom, theorem, or common slot of this
// context currently records h, if any.
func (c *Context) SpecialName(h expr.Hash) (store.Kind, string, bool, error) {
	return c.store.SpecialName(h)
}
