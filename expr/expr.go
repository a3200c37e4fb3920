// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expr defines the expression contract between TheoryStore and the
// expression/rendering layers that sit on top of it.
//
// The storage subsystem never interprets mathematical structure. All it needs
// from an expression is a stable identity, which this package provides in two
// halves:
//
//   - Hash: a deterministic content address computed from an expression's
//     kind tag, its style-independent core data, and the ordered hashes of
//     its sub-expressions. Display styles never enter the hash domain, so
//     two renderings of the same structure share one stored entry.
//
//   - Record: the canonical persisted form of a single node (kind, core,
//     child hash list). A stored expression is a set of Records, one per
//     node, each addressable by its own Hash.
//
// Deserialization rebuilds expressions as *Node values. Callers that carry a
// richer object model implement Expression on their own types; anything with
// the same structure hashes identically and round-trips through the store.
//
// # Thread Safety
//
// Everything in this package is immutable after construction and safe for
// concurrent use.
package expr

// Expression is the minimal surface the storage subsystem requires of an
// expression node.
//
// Implementations must be immutable while stored or hashed: Kind, Core, and
// SubExpressions must return the same values on every call.
type Expression interface {
	// Kind returns the operator/kind tag of this node, e.g. "Operation",
	// "Literal", "Variable". It participates in the hash domain.
	Kind() string

	// Core returns the style-independent core data of this node, e.g. a
	// literal's symbol or a variable's index. Empty for pure combinators.
	// It participates in the hash domain.
	Core() string

	// SubExpressions returns the ordered direct sub-expressions. Order is
	// structural: swapping operands produces a different hash.
	SubExpressions() []Expression
}

// Node is the concrete Expression produced by deserialization, and a
// convenient building block for tests and tooling.
//
// A Node may carry display styles (font hints, parenthesization choices).
// Styles are presentation-only: they are excluded from the hash domain and
// are not persisted, so a Node resolved from the store never has any.
type Node struct {
	kind   string
	core   string
	subs   []Expression
	styles map[string]string
}

// NewNode constructs an expression node.
//
// Inputs:
//   - kind: The operator/kind tag. Must be non-empty for a meaningful hash.
//   - core: Style-independent core data; may be empty.
//   - subs: Ordered direct sub-expressions.
//
// Outputs:
//   - *Node: The constructed node, without styles.
func NewNode(kind, core string, subs ...Expression) *Node {
	n := &Node{kind: kind, core: core}
	if len(subs) > 0 {
		n.subs = make([]Expression, len(subs))
		copy(n.subs, subs)
	}
	return n
}

// Kind returns the node's kind tag.
func (n *Node) Kind() string { return n.kind }

// Core returns the node's core data.
func (n *Node) Core() string { return n.core }

// SubExpressions returns a copy of the node's ordered sub-expressions.
func (n *Node) SubExpressions() []Expression {
	if len(n.subs) == 0 {
		return nil
	}
	out := make([]Expression, len(n.subs))
	copy(out, n.subs)
	return out
}

// Style returns the value of a display style, if set.
func (n *Node) Style(key string) (string, bool) {
	v, ok := n.styles[key]
	return v, ok
}

// WithStyle returns a copy of the node carrying an additional display style.
//
// The receiver is not modified. Styles do not affect the node's hash.
func (n *Node) WithStyle(key, value string) *Node {
	out := &Node{kind: n.kind, core: n.core, subs: n.subs}
	out.styles = make(map[string]string, len(n.styles)+1)
	for k, v := range n.styles {
		out.styles[k] = v
	}
	out.styles[key] = value
	return out
}

// String renders a compact structural form for logs and test failures,
// e.g. "Operation[Sin](Variable[theta])".
func (n *Node) String() string {
	s := n.kind
	if n.core != "" {
		s += "[" + n.core + "]"
	}
	if len(n.subs) > 0 {
		s += "("
		for i, sub := range n.subs {
			if i > 0 {
				s += ", "
			}
			if sn, ok := sub.(*Node); ok {
				s += sn.String()
			} else {
				s += sub.Kind()
			}
		}
		s += ")"
	}
	return s
}
