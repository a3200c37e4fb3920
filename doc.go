// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package theorystore resolves hierarchical theory contexts and exposes
// each one's persistent statement storage.
//
// A context is a directory carrying a marker file. Contexts nest: a
// marked directory whose parent is also marked is a sub-context, and its
// full name is the dotted chain of directory names below its root
// context. Root contexts are registered by name, either explicitly or
// automatically the first time a path below them is resolved.
//
// # Resolution
//
// Registry.Resolve canonicalizes a filesystem path (absolute form plus
// symlink evaluation) and returns the Context that owns it. Paths inside
// a context's storage or proofs directories redirect upward to the
// context itself. Resolution is a singleton: one canonical directory
// yields one *Context for the life of the Registry, so two paths that
// alias the same directory share state.
//
// # Storage
//
// Each Context wraps a store.Store rooted in its storage directory. The
// Context surface covers the authoring operations (statement and common
// reconciliation, lookups, build sessions, maintenance); the underlying
// Store is exposed for the storage-level surface such as render caching
// and display reference sets.
//
// # Mutual Dependencies
//
// Contexts record which sibling contexts their statements reference.
// CheckMutual inspects those records pairwise and reports a context that
// references this one back. Only direct two-context cycles are detected;
// longer cycles never are.
package theorystore
