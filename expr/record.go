// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expr

import (
	"encoding/json"
	"fmt"
)

// Record is the canonical persisted form of one expression node.
//
// A Record stores the node's own data plus the hex hashes of its direct
// sub-expressions; the sub-expressions live in Records of their own. This
// keeps shared subtrees deduplicated on disk and lets the store resolve any
// node without touching unrelated parts of the repository.
type Record struct {
	// Kind is the operator/kind tag.
	Kind string `json:"kind"`

	// Core is the style-independent core data.
	Core string `json:"core"`

	// Subs holds the ordered child hashes in canonical hex form.
	// Always present, possibly empty; never null, for byte-stable output.
	Subs []string `json:"subs"`
}

// BuildRecord produces the Record for an expression's top node along with
// the node's own hash.
//
// Description:
//
//	Child hashes are computed recursively with HashOf; only the top node
//	is turned into a Record. Callers persisting a whole expression walk it
//	themselves so that every node's Record is written exactly once.
//
// Inputs:
//   - e: The expression whose top node is being recorded.
//
// Outputs:
//   - Record: The canonical record of the top node.
//   - Hash: The top node's content address.
func BuildRecord(e Expression) (Record, Hash) {
	subs := e.SubExpressions()
	r := Record{
		Kind: e.Kind(),
		Core: e.Core(),
		Subs: make([]string, 0, len(subs)),
	}
	for _, sub := range subs {
		r.Subs = append(r.Subs, HashOf(sub).String())
	}
	return r, HashOf(e)
}

// Encode serializes the record to its on-disk JSON form.
func (r Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses on-disk record bytes.
//
// Outputs:
//   - Record: The parsed record.
//   - error: Non-nil if the bytes are not a well-formed record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if r.Kind == "" {
		return Record{}, fmt.Errorf("decode record: missing kind tag")
	}
	return r, nil
}

// SubHashes decodes the record's child hash list.
//
// Outputs:
//   - []Hash: The ordered child hashes.
//   - error: Non-nil if any child hash is malformed.
func (r Record) SubHashes() ([]Hash, error) {
	if len(r.Subs) == 0 {
		return nil, nil
	}
	out := make([]Hash, 0, len(r.Subs))
	for i, s := range r.Subs {
		h, err := ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		out = append(out, h)
	}
	return out, nil
}
