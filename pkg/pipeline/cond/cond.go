// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cond evaluates the blueprint condition DSL against a run context.
//
// A condition is JSON-shaped: null or an empty mapping (always true), a
// group {"all": [...]} or {"any": [...]}, or a leaf
// {"field": "...", "op": "...", "value": ...}. Conditions are parsed once
// into a tagged tree at planning time; evaluation is pure and allocation
// free on the hot path.
package cond

import (
	"math"
	"strconv"
	"strings"
)

// Op is a leaf comparison operator.
type Op string

const (
	OpExists    Op = "exists"
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpLt        Op = "lt"
	OpGt        Op = "gt"
	OpLte       Op = "lte"
	OpGte       Op = "gte"
	OpContains  Op = "contains"
	OpIContains Op = "icontains"
	OpIn        Op = "in"
)

type kind int

const (
	kindTrue kind = iota
	kindFalse
	kindAll
	kindAny
	kindLeaf
)

// Condition is a parsed condition tree. The zero value is always true;
// a nil *Condition is also always true.
type Condition struct {
	kind     kind
	children []*Condition
	leaf     leaf
}

type leaf struct {
	field string
	// path is the precompiled dotted field path.
	path  []string
	op    Op
	value any
}

// Parse converts a raw JSON-shaped condition into a Condition. Parsing never
// fails: malformed nodes (a non-mapping condition, a group whose body is not
// a list, a leaf without string field and op) evaluate to false, matching
// the wire contract.
func Parse(raw any) *Condition {
	if raw == nil {
		return &Condition{kind: kindTrue}
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return &Condition{kind: kindFalse}
	}
	if len(m) == 0 {
		return &Condition{kind: kindTrue}
	}

	if body, present := m["all"]; present {
		return parseGroup(kindAll, body)
	}
	if body, present := m["any"]; present {
		return parseGroup(kindAny, body)
	}

	field, fieldOK := m["field"].(string)
	opStr, opOK := m["op"].(string)
	if !fieldOK || !opOK {
		return &Condition{kind: kindFalse}
	}

	return &Condition{
		kind: kindLeaf,
		leaf: leaf{
			field: field,
			path:  strings.Split(field, "."),
			op:    Op(opStr),
			value: m["value"],
		},
	}
}

func parseGroup(k kind, body any) *Condition {
	list, ok := body.([]any)
	if !ok {
		return &Condition{kind: kindFalse}
	}

	children := make([]*Condition, 0, len(list))
	for _, child := range list {
		children = append(children, Parse(child))
	}

	return &Condition{kind: k, children: children}
}

// Evaluate returns the condition's value against a context mapping.
// Pure: no side effects, deterministic for a given condition and context.
func (c *Condition) Evaluate(ctx map[string]any) bool {
	if c == nil {
		return true
	}

	switch c.kind {
	case kindTrue:
		return true
	case kindFalse:
		return false
	case kindAll:
		for _, child := range c.children {
			if !child.Evaluate(ctx) {
				return false
			}
		}
		return true
	case kindAny:
		for _, child := range c.children {
			if child.Evaluate(ctx) {
				return true
			}
		}
		return false
	case kindLeaf:
		return c.leaf.evaluate(ctx)
	default:
		return false
	}
}

func (l *leaf) evaluate(ctx map[string]any) bool {
	value, found := lookup(ctx, l.path)

	if l.op == OpExists {
		return found && !isEmpty(value)
	}

	if !found {
		return false
	}

	switch l.op {
	case OpEq:
		return strictEqual(value, l.value)
	case OpNe:
		return !strictEqual(value, l.value)
	case OpLt, OpGt, OpLte, OpGte:
		return compareNumeric(l.op, value, l.value)
	case OpContains:
		return strings.Contains(stringify(value), stringify(l.value))
	case OpIContains:
		return strings.Contains(strings.ToLower(stringify(value)), strings.ToLower(stringify(l.value)))
	case OpIn:
		list, ok := l.value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if strictEqual(value, item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// lookup walks a dotted path through mapping nodes only. Any non-mapping
// node along the path means not found.
func lookup(ctx map[string]any, path []string) (any, bool) {
	var current any = ctx
	for _, segment := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// isEmpty reports whether a found value fails the exists test: null, empty
// string, and empty list are not exists.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// strictEqual mirrors strict equality on JSON scalars: values of different
// types are never equal, numbers compare numerically across Go numeric
// kinds, and composite values are never equal.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if na, aNum := rawNumber(a); aNum {
		nb, bNum := rawNumber(b)
		return bNum && na == nb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// rawNumber accepts actual numeric values without string parsing.
func rawNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// toNumber coerces a comparison operand to a finite number: numeric
// passthrough, non-empty numeric strings parsed, everything else rejected.
func toNumber(v any) (float64, bool) {
	if n, ok := rawNumber(v); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}

	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return 0, false
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func compareNumeric(op Op, a, b any) bool {
	left, ok := toNumber(a)
	if !ok {
		return false
	}
	right, ok := toNumber(b)
	if !ok {
		return false
	}

	switch op {
	case OpLt:
		return left < right
	case OpGt:
		return left > right
	case OpLte:
		return left <= right
	case OpGte:
		return left >= right
	default:
		return false
	}
}

// stringify renders a value the way the wire contract's string coercion
// does: strings pass through, numbers render without trailing zeros.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
