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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TheoryStore/expr"
	"github.com/AleutianAI/TheoryStore/pkg/validation"
	"github.com/AleutianAI/TheoryStore/store"
)

var tracer = otel.Tracer("theorystore")

// Registry resolves filesystem paths and dotted names to Contexts.
//
// Description:
//
//	The Registry owns two caches: canonical directory to Context, which
//	makes resolution a singleton, and root name to directory, which
//	anchors dotted names. Both are explicit state on the Registry; there
//	is no package-level registry, so tests isolate by creating one and
//	closing it.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The caches are guarded by
//     one mutex, held across a full resolution so a directory is never
//     opened twice.
type Registry struct {
	cfg    Config
	base   *slog.Logger
	logger *slog.Logger

	mu     sync.Mutex
	byDir  map[string]*Context
	roots  map[string]string
	closed bool
}

// NewRegistry creates a Registry and pre-registers cfg.Roots.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}
	r := &Registry{
		cfg:    cfg,
		base:   base,
		logger: base.With("component", "registry"),
		byDir:  make(map[string]*Context),
		roots:  make(map[string]string),
	}
	for name, dir := range cfg.Roots {
		if err := r.RegisterRoot(name, dir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Close closes every resolved Context's storage and empties the caches.
// The Registry is unusable afterward; tests create a fresh one per case.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for dir, c := range r.byDir {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", dir, err))
		}
	}
	r.byDir = nil
	r.roots = nil
	return errors.Join(errs...)
}

// ===== Root Registration =====

// RegisterRoot maps a root context name to a directory.
//
// Re-registering an identical mapping is a no-op; a name already mapped
// to a different canonical directory is ErrRootConflict.
func (r *Registry) RegisterRoot(name, dir string) error {
	if err := validation.ValidateRootName(name); err != nil {
		return fmt.Errorf("theorystore: %w", err)
	}
	canon, err := canonicalDir(dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}
	return r.registerRootLocked(name, canon)
}

func (r *Registry) registerRootLocked(name, canon string) error {
	if cur, ok := r.roots[name]; ok {
		if cur == canon {
			return nil
		}
		return fmt.Errorf("theorystore: root %q maps to %q, refusing %q: %w",
			name, cur, canon, ErrRootConflict)
	}
	r.roots[name] = canon
	r.logger.Info("root context registered", "name", name, "dir", canon)
	return nil
}

// RootNames returns the registered root context names.
func (r *Registry) RootNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.roots))
	for name := range r.roots {
		names = append(names, name)
	}
	return names
}

// ===== Resolution =====

// Resolve returns the Context owning a filesystem path.
//
// Description:
//
//	The path is made absolute, lexically redirected out of storage and
//	proofs directories, and canonicalized through symlinks, so every
//	alias of a context directory resolves to the same Context. The
//	directory must carry the context marker file. Marked parents
//	contribute dotted name segments; the topmost marked ancestor is the
//	root context and is resolved first, auto-registering its name when
//	unknown. The first resolution of a directory opens its storage;
//	later resolutions return the cached Context.
//
// Outputs:
//   - *Context: the singleton handle for the canonical directory.
//   - error: ErrNotAContext for unmarked or missing directories,
//     ErrRootConflict when auto-registration collides with an existing
//     root mapping.
func (r *Registry) Resolve(ctx context.Context, path string) (*Context, error) {
	ctx, span := tracer.Start(ctx, "registry.Resolve",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	canon, err := r.canonicalContextDir(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, store.ErrClosed
	}
	c, err := r.resolveLocked(ctx, canon)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}
	return c, nil
}

// resolveLocked resolves a canonical directory with the mutex held.
func (r *Registry) resolveLocked(ctx context.Context, dir string) (*Context, error) {
	if c, ok := r.byDir[dir]; ok {
		return c, nil
	}
	if !r.isContextDir(dir) {
		return nil, fmt.Errorf("theorystore: %q: %w", dir, ErrNotAContext)
	}

	// Climb marked parents; the topmost marked directory anchors the
	// dotted name.
	segments := []string{filepath.Base(dir)}
	rootDir := dir
	for {
		parent := filepath.Dir(rootDir)
		if parent == rootDir || !r.isContextDir(parent) {
			break
		}
		segments = append([]string{filepath.Base(parent)}, segments...)
		rootDir = parent
	}

	var fullName string
	if rootDir == dir {
		name, err := r.rootNameLocked(dir)
		if err != nil {
			return nil, err
		}
		fullName = name
	} else {
		rootCtx, err := r.resolveLocked(ctx, rootDir)
		if err != nil {
			return nil, err
		}
		fullName = strings.Join(append([]string{rootCtx.fullName}, segments[1:]...), ".")
	}

	st, err := store.Open(store.Options{
		Dir:         filepath.Join(dir, r.cfg.StorageDirName),
		ContextName: fullName,
		InMemory:    r.cfg.InMemory,
		SyncWrites:  r.cfg.SyncWrites,
		Logger:      r.base,
	})
	if err != nil {
		return nil, err
	}
	c := &Context{registry: r, dir: dir, fullName: fullName, store: st}
	r.byDir[dir] = c
	r.logger.Info("context resolved", "name", fullName, "dir", dir)
	return c, nil
}

// rootNameLocked finds or mints the root name for a canonical root
// directory. An unregistered root auto-registers under its base name.
func (r *Registry) rootNameLocked(dir string) (string, error) {
	for name, d := range r.roots {
		if d == dir {
			return name, nil
		}
	}
	name := filepath.Base(dir)
	if err := validation.ValidateRootName(name); err != nil {
		return "", fmt.Errorf("theorystore: directory %q: %w", dir, err)
	}
	if err := r.registerRootLocked(name, dir); err != nil {
		return "", err
	}
	return name, nil
}

// ByName returns the Context for a dotted full name.
func (r *Registry) ByName(ctx context.Context, fullName string) (*Context, error) {
	segments := strings.Split(fullName, ".")
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, store.ErrClosed
	}
	rootDir, ok := r.roots[segments[0]]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("theorystore: %q: %w", segments[0], ErrUnknownRoot)
	}
	return r.Resolve(ctx, filepath.Join(append([]string{rootDir}, segments[1:]...)...))
}

// FindAxiom resolves a fully qualified axiom name, context dotted path
// plus statement name, to its defining expression.
func (r *Registry) FindAxiom(ctx context.Context, fullName string) (expr.Expression, error) {
	ctxName, stmt, err := splitStatementName(fullName)
	if err != nil {
		return nil, err
	}
	c, err := r.ByName(ctx, ctxName)
	if err != nil {
		return nil, err
	}
	return c.Axiom(ctx, stmt)
}

// FindTheorem resolves a fully qualified theorem name to its defining
// expression.
func (r *Registry) FindTheorem(ctx context.Context, fullName string) (expr.Expression, error) {
	ctxName, stmt, err := splitStatementName(fullName)
	if err != nil {
		return nil, err
	}
	c, err := r.ByName(ctx, ctxName)
	if err != nil {
		return nil, err
	}
	return c.Theorem(ctx, stmt)
}

// splitStatementName splits "trig.identities.sinDef" into the context
// name "trig.identities" and the statement name "sinDef".
func splitStatementName(fullName string) (string, string, error) {
	i := strings.LastIndex(fullName, ".")
	if i <= 0 || i == len(fullName)-1 {
		return "", "", fmt.Errorf("theorystore: %q is not a qualified statement name", fullName)
	}
	return fullName[:i], fullName[i+1:], nil
}

// ===== Paths =====

// isContextDir reports whether dir carries the context marker file.
func (r *Registry) isContextDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, r.cfg.MarkerName))
	return err == nil && !info.IsDir()
}

// canonicalContextDir makes a path absolute, lexically redirects it out
// of storage and proofs directories, and resolves symlinks. The redirect
// runs before symlink evaluation so paths deep inside a storage tree
// resolve even when the leaf does not exist.
func (r *Registry) canonicalContextDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("theorystore: absolute path for %q: %w", path, err)
	}
	abs = r.redirectOut(abs)
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("theorystore: %q does not exist: %w", path, ErrNotAContext)
		}
		return "", fmt.Errorf("theorystore: resolve %q: %w", path, err)
	}
	return canon, nil
}

// redirectOut truncates a path at its first storage or proofs component,
// yielding the owning context directory.
func (r *Registry) redirectOut(abs string) string {
	sep := string(filepath.Separator)
	parts := strings.Split(abs, sep)
	for i, part := range parts {
		if part == r.cfg.StorageDirName || part == r.cfg.ProofsDirName {
			redirected := strings.Join(parts[:i], sep)
			if redirected == "" {
				redirected = sep
			}
			return redirected
		}
	}
	return abs
}

// canonicalDir resolves a directory that must already exist.
func canonicalDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("theorystore: absolute path for %q: %w", path, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("theorystore: resolve %q: %w", path, err)
	}
	return canon, nil
}
