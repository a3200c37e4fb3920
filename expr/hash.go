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
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// HashSize is the byte length of a content hash.
const HashSize = sha256.Size

// HashHexLength is the length of a hash in its canonical hex form.
const HashHexLength = HashSize * 2

// Hash is the content address of an expression node.
//
// It is a SHA-256 digest over the node's structural identity: length-framed
// kind tag, length-framed core data, then the ordered hashes of the direct
// sub-expressions. Child hashes are computed the same way, so the address
// commits to the entire subtree while each node remains separately stored.
type Hash [HashSize]byte

// HashOf computes the content address of an expression.
//
// Description:
//
//	Walks the expression bottom-up, hashing each node from its kind, core
//	data, and the already-computed hashes of its children. Display styles
//	are invisible to this function: structurally equal expressions hash
//	equal regardless of presentation.
//
// Inputs:
//   - e: The expression to address.
//
// Outputs:
//   - Hash: The deterministic content address.
//
// Thread Safety: Safe for concurrent use (stateless).
func HashOf(e Expression) Hash {
	subs := e.SubExpressions()
	hs := make([]Hash, 0, len(subs))
	for _, sub := range subs {
		hs = append(hs, HashOf(sub))
	}
	return HashParts(e.Kind(), e.Core(), hs)
}

// HashParts computes a node's content address from its own fields and the
// precomputed hashes of its direct children.
//
// Description:
//
//	This is the single definition of the hash domain: length-framed kind
//	tag, length-framed core data, then the child digests in order. Framing
//	guarantees ("ab","c") and ("a","bc") cannot collide. Callers that walk
//	an expression themselves (the store's put path, resolve verification)
//	use this to stay linear instead of re-walking subtrees.
//
// Inputs:
//   - kind: The node's kind tag.
//   - core: The node's style-independent core data.
//   - subs: Ordered content addresses of the direct sub-expressions.
//
// Outputs:
//   - Hash: The node's content address.
//
// Thread Safety: Safe for concurrent use (stateless).
func HashParts(kind, core string, subs []Hash) Hash {
	h := sha256.New()
	writeFramed(h, kind)
	writeFramed(h, core)
	for _, sh := range subs {
		h.Write(sh[:])
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// writeFramed writes a varint length prefix followed by the string bytes.
func writeFramed(h hash.Hash, s string) {
	var frame [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(frame[:], uint64(len(s)))
	h.Write(frame[:n])
	h.Write([]byte(s))
}

// ParseHash decodes a canonical hex hash.
//
// Inputs:
//   - s: 64 lowercase hex characters.
//
// Outputs:
//   - Hash: The decoded hash.
//   - error: Non-nil if s is not a well-formed hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashHexLength {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", HashHexLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

// String returns the canonical lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns a 12-character prefix for logs and error messages.
func (h Hash) Short() string {
	return h.String()[:12]
}

// IsZero reports whether the hash is the zero value (no address).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of the raw digest.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}
