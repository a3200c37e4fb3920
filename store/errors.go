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

import "errors"

var (
	// ErrNotFound indicates a requested name or hash has no entry.
	// Recoverable: callers commonly treat it as "not yet defined".
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates on-disk state that exists but cannot be trusted:
	// an unparseable ledger or table file, a listed name whose slot is
	// missing its hash, a dangling child reference, or an entry that fails
	// hash verification. Never auto-repaired; the context must be rebuilt
	// from its authoring source.
	ErrCorrupt = errors.New("corrupt store")

	// ErrBuildState indicates a mutual-dependency tracker call outside its
	// valid build phase, e.g. RecordReference with no build in progress.
	ErrBuildState = errors.New("invalid build state")

	// ErrClosed indicates an operation on a Store after Close.
	ErrClosed = errors.New("store closed")
)
