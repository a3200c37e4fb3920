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

import "fmt"

// Changes reports what a reconciliation did, by name.
//
// Names appear in the order the caller supplied them (Added, Modified) or
// in previous ledger order (Removed). An all-empty Changes means the call
// was a no-op: the second of two identical reconciliations always reports
// empty.
type Changes struct {
	// Added holds names that were not present before.
	Added []string

	// Modified holds names whose defining expression changed hash.
	Modified []string

	// Removed holds names that were present before and are now absent.
	Removed []string
}

// Empty reports whether the reconciliation changed nothing.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Total returns the number of changed names.
func (c Changes) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// String renders a compact summary for logs, e.g. "2 added, 1 modified, 0 removed".
func (c Changes) String() string {
	return fmt.Sprintf("%d added, %d modified, %d removed",
		len(c.Added), len(c.Modified), len(c.Removed))
}
