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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("theorystore/store")

// ===== Statement Kinds =====

// Kind selects which statement ledger an operation targets.
type Kind string

const (
	// KindAxiom addresses the axiom ledger.
	KindAxiom Kind = "axiom"
	// KindTheorem addresses the theorem ledger.
	KindTheorem Kind = "theorem"
	// KindCommon labels commons-table results from SpecialName. The
	// commons table is not a statement ledger; ledger operations
	// reject it.
	KindCommon Kind = "common"
)

// Valid reports whether k can address a statement ledger.
func (k Kind) Valid() bool {
	return k == KindAxiom || k == KindTheorem
}

// plural returns the on-disk directory name for the kind's slots.
func (k Kind) plural() string {
	return string(k) + "s"
}

// listFile returns the on-disk name of the kind's ordered name list.
func (k Kind) listFile() string {
	return k.plural() + ".list"
}

// ===== Storage Root Layout =====

const (
	entriesDirName      = "entries"
	renderDirName       = "render"
	displaysDirName     = "displays"
	commonsFileName     = "commons.table"
	subContextsFileName = "sub_contexts.list"
	mutualDepsFileName  = "mutual_deps.record"
	markerFileName      = "commit.marker"

	entryFileName  = "entry"
	usedByFileName = "usedBy"

	dirPerm = 0o750
)

// ===== Options =====

// Options configures a Store.
type Options struct {
	// Dir is the storage root directory (created if absent). Required.
	Dir string

	// ContextName is the dotted full name of the owning context. Used for
	// log and trace attribution only.
	ContextName string

	// InMemory keeps the entry database off disk. Intended for tests.
	// File-backed state (ledgers, slots, renders) still lives under Dir.
	InMemory bool

	// SyncWrites makes the entry database fsync every write batch.
	SyncWrites bool

	// Logger receives structured operation logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// validate checks the options for structural problems.
func (o *Options) validate() error {
	if o.Dir == "" {
		return fmt.Errorf("store: Options.Dir is required")
	}
	return nil
}

// ===== Store =====

// Store manages one context's persistent statement storage: the
// content-addressed entry database plus the ledgers, tables, and caches
// laid out under a single storage root directory.
//
// Thread Safety:
//   - Read operations may run concurrently. Mutating operations on the
//     same Store must be externally serialized; see the package
//     documentation for the single-writer contract.
type Store struct {
	opts   Options
	root   string
	logger *slog.Logger
	db     *badger.DB

	mu      sync.Mutex
	closed  bool
	commons *commonsTable
	build   buildSession
}

// Open initializes a Store over the given storage root.
//
// Description:
//
//	Creates the root directory if needed, opens the entry database under
//	entries/, and checks for a leftover commit marker from an interrupted
//	run. A found marker is logged with the interrupted operation's name
//	and removed; the caller is expected to re-run the authoring step that
//	was cut short, which restores consistency because reconciliation is
//	diff-based.
//
// Inputs:
//   - opts: store configuration; Dir is required.
//
// Outputs:
//   - *Store: ready for use; callers own the Close.
//   - error: invalid options, directory creation failure, or an entry
//     database that cannot be opened.
func Open(opts Options) (*Store, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "context", opts.ContextName)

	if err := os.MkdirAll(opts.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("store: create storage root %q: %w", opts.Dir, err)
	}
	db, err := openEntriesDB(filepath.Join(opts.Dir, entriesDirName), opts.InMemory, opts.SyncWrites, logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		opts:   opts,
		root:   opts.Dir,
		logger: logger,
		db:     db,
	}
	s.recoverMarker()
	return s, nil
}

// Close releases the entry database. Further operations return ErrClosed.
// Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close entries db: %w", err)
	}
	return nil
}

// Dir returns the storage root directory.
func (s *Store) Dir() string {
	return s.root
}

// ContextName returns the owning context's dotted name.
func (s *Store) ContextName() string {
	return s.opts.ContextName
}

// guard rejects operations on a closed Store.
func (s *Store) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// path joins parts under the storage root.
func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// slotDir returns the directory holding a named statement's entry files.
func (s *Store) slotDir(kind Kind, name string) string {
	return s.path(kind.plural(), name)
}

// listPath returns the path of a kind's ordered name list.
func (s *Store) listPath(kind Kind) string {
	return s.path(kind.listFile())
}
