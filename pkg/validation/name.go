// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for names that reach the
// filesystem or the persistent ledgers.
//
// Statement, common, and sub-context names become slot directory names and
// line-file entries; root context names begin dotted full names. These
// validators reject values that could escape a storage root or corrupt a
// line-oriented file (path traversal, separator injection).
package validation

import (
	"fmt"
	"strings"
)

// ValidateSlotName validates a statement, common, or sub-context name.
//
// Valid names:
//   - non-empty
//   - not the relative path elements "." or ".."
//   - free of path separators and newlines
//
// Returns an error naming the first violated rule.
//
// Example:
//
//	if err := validation.ValidateSlotName(name); err != nil {
//	    return fmt.Errorf("store: %w", err)
//	}
//	// Safe to use as a slot directory and a ledger line
func ValidateSlotName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("reserved name %q", name)
	case strings.ContainsAny(name, "/\\\n"):
		return fmt.Errorf("name %q contains path or line separators", name)
	}
	return nil
}

// ValidateRootName validates a root context name.
//
// A root name is the first segment of a dotted full name, so beyond the
// slot rules it must be a single plain segment: no dots, no spaces.
func ValidateRootName(name string) error {
	if err := ValidateSlotName(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, ". ") {
		return fmt.Errorf("invalid root name %q", name)
	}
	return nil
}
