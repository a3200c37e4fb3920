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

import "errors"

var (
	// ErrNotAContext reports a path that does not resolve to a marked
	// context directory.
	ErrNotAContext = errors.New("not a context directory")

	// ErrUnknownRoot reports a dotted name whose first segment is not a
	// registered root context.
	ErrUnknownRoot = errors.New("unknown root context")

	// ErrRootConflict reports a root name already mapped to a different
	// directory.
	ErrRootConflict = errors.New("root context name conflict")

	// ErrMutualDependency reports two contexts whose statements
	// reference each other.
	ErrMutualDependency = errors.New("mutual context dependency")
)
