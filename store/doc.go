// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store implements the per-context storage engine of TheoryStore.
//
// One Store owns one context storage root (by convention the `.theorystore`
// directory inside a context directory) and everything persisted under it:
//
//   - Content-addressed expression entries with reference counts, kept in an
//     embedded BadgerDB under `entries/`. Expressions are stored once per
//     structural hash; every named slot that points at a hash holds one
//     reference, and entries whose count drops to zero are removed by an
//     explicit Sweep, never automatically.
//
//   - The statement ledgers: ordered axiom and theorem name lists
//     (`axioms.list`, `theorems.list`) with one slot directory per name
//     (`axioms/<name>/entry`, `axioms/<name>/usedBy`). Ledgers change only
//     through whole-list reconciliation that diffs the previous state
//     against the caller's, so adds, modifications, and removals keep the
//     list, the slots, and the reference counts consistent.
//
//   - The common-expression table (`commons.table`): the same reconciliation
//     discipline collapsed onto a flat ordered name→hash file.
//
//   - The mutual-dependency build record (`mutual_deps.record`): which other
//     contexts' commons were referenced while building this context's table.
//
//   - Render-cache artifacts (`render/`), display reference sets
//     (`displays/`), and the nested sub-context list (`sub_contexts.list`).
//
// # Consistency model
//
// Reconciliation is not transactional across its file writes. Every
// multi-file mutation is bracketed by a `commit.marker` write-ahead file so
// an interrupted run is detected (and warned about) on the next Open;
// because reconciliation is diff-based and idempotent, re-running the
// authoring step that was interrupted restores consistency. Individual file
// writes are atomic (temp file, fsync, rename).
//
// # Concurrency
//
// A Store assumes a single writer per context directory. Mutating
// operations must be serialized by the caller; no locking is provided.
// Read paths and the lazy caches are mutex-guarded so diagnostics can be
// read concurrently, but interleaving a Sweep with a reconcile on the same
// Store is undefined.
package store
