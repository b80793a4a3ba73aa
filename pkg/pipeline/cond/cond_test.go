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

package cond

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func leafCond(field, op string, value any) map[string]any {
	return map[string]any{"field": field, "op": op, "value": value}
}

func TestEvaluate_EmptyConditions(t *testing.T) {
	ctx := map[string]any{"tier": "pro"}

	assert.True(t, Parse(nil).Evaluate(ctx))
	assert.True(t, Parse(map[string]any{}).Evaluate(ctx))

	var nilCond *Condition
	assert.True(t, nilCond.Evaluate(ctx))
}

func TestEvaluate_NonMappingIsFalse(t *testing.T) {
	ctx := map[string]any{}

	assert.False(t, Parse("tier == pro").Evaluate(ctx))
	assert.False(t, Parse([]any{"x"}).Evaluate(ctx))
	assert.False(t, Parse(42.0).Evaluate(ctx))
}

func TestEvaluate_LeafMissingFieldOrOp(t *testing.T) {
	ctx := map[string]any{"tier": "pro"}

	assert.False(t, Parse(map[string]any{"field": "tier"}).Evaluate(ctx))
	assert.False(t, Parse(map[string]any{"op": "exists"}).Evaluate(ctx))
	assert.False(t, Parse(map[string]any{"field": 1.0, "op": "exists"}).Evaluate(ctx))
}

func TestEvaluate_Groups(t *testing.T) {
	ctx := map[string]any{"tier": "pro", "count": 5.0}

	all := map[string]any{"all": []any{
		leafCond("tier", "eq", "pro"),
		leafCond("count", "gt", 3.0),
	}}
	assert.True(t, Parse(all).Evaluate(ctx))

	anyOf := map[string]any{"any": []any{
		leafCond("tier", "eq", "free"),
		leafCond("count", "gt", 3.0),
	}}
	assert.True(t, Parse(anyOf).Evaluate(ctx))

	// Empty all is vacuously true; empty any has no true child.
	assert.True(t, Parse(map[string]any{"all": []any{}}).Evaluate(ctx))
	assert.False(t, Parse(map[string]any{"any": []any{}}).Evaluate(ctx))

	// Group body must be a list.
	assert.False(t, Parse(map[string]any{"all": "not a list"}).Evaluate(ctx))
}

// evaluate(c, x) == evaluate({all: [c]}, x) == evaluate({any: [c]}, x)
func TestEvaluate_SingletonGroupIdentity(t *testing.T) {
	ctx := map[string]any{"tier": "pro", "count": 5.0}

	conditions := []any{
		nil,
		map[string]any{},
		leafCond("tier", "eq", "pro"),
		leafCond("tier", "eq", "free"),
		leafCond("missing", "exists", nil),
		"garbage",
	}

	for _, c := range conditions {
		want := Parse(c).Evaluate(ctx)
		assert.Equal(t, want, Parse(map[string]any{"all": []any{c}}).Evaluate(ctx))
		assert.Equal(t, want, Parse(map[string]any{"any": []any{c}}).Evaluate(ctx))
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	ctx := map[string]any{"tier": "pro"}
	c := Parse(leafCond("tier", "eq", "pro"))

	assert.Equal(t, c.Evaluate(ctx), c.Evaluate(ctx))
}

func TestExists(t *testing.T) {
	ctx := map[string]any{
		"name":     "Acme",
		"empty":    "",
		"nothing":  nil,
		"items":    []any{},
		"nonempty": []any{"a"},
		"zero":     0.0,
		"no":       false,
	}

	tests := []struct {
		field string
		want  bool
	}{
		{"name", true},
		{"empty", false},
		{"nothing", false},
		{"items", false},
		{"nonempty", true},
		{"zero", true},
		{"no", true},
		{"missing", false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got := Parse(leafCond(tt.field, "exists", nil)).Evaluate(ctx)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDotPathLookup(t *testing.T) {
	ctx := map[string]any{
		"company": map[string]any{
			"name": "Acme",
			"size": map[string]any{"employees": 50.0},
		},
		"scalar": "flat",
	}

	assert.True(t, Parse(leafCond("company.name", "eq", "Acme")).Evaluate(ctx))
	assert.True(t, Parse(leafCond("company.size.employees", "gte", 50.0)).Evaluate(ctx))

	// Non-mapping node along the path means not found.
	assert.False(t, Parse(leafCond("scalar.sub", "exists", nil)).Evaluate(ctx))
	assert.False(t, Parse(leafCond("company.missing.deep", "eq", "x")).Evaluate(ctx))
}

func TestEqNe(t *testing.T) {
	ctx := map[string]any{"tier": "pro", "count": 3.0, "flag": true}

	assert.True(t, Parse(leafCond("tier", "eq", "pro")).Evaluate(ctx))
	assert.False(t, Parse(leafCond("tier", "eq", "free")).Evaluate(ctx))
	assert.True(t, Parse(leafCond("tier", "ne", "free")).Evaluate(ctx))
	assert.True(t, Parse(leafCond("count", "eq", 3.0)).Evaluate(ctx))
	assert.True(t, Parse(leafCond("flag", "eq", true)).Evaluate(ctx))

	// Strict: no cross-type coercion for eq.
	assert.False(t, Parse(leafCond("count", "eq", "3")).Evaluate(ctx))
	assert.True(t, Parse(leafCond("count", "ne", "3")).Evaluate(ctx))

	// Missing field is false for both eq and ne.
	assert.False(t, Parse(leafCond("missing", "eq", "x")).Evaluate(ctx))
	assert.False(t, Parse(leafCond("missing", "ne", "x")).Evaluate(ctx))
}

func TestNumericComparisons(t *testing.T) {
	ctx := map[string]any{
		"count":   5.0,
		"text":    "10",
		"padded":  " 7 ",
		"words":   "ten",
		"empty":   "",
		"listval": []any{1.0},
	}

	tests := []struct {
		name string
		cond map[string]any
		want bool
	}{
		{"number lt", leafCond("count", "lt", 10.0), true},
		{"number gt", leafCond("count", "gt", 10.0), false},
		{"lte equal", leafCond("count", "lte", 5.0), true},
		{"gte equal", leafCond("count", "gte", 5.0), true},
		{"numeric string coerces", leafCond("text", "gt", 5.0), true},
		{"padded string coerces", leafCond("padded", "lt", 10.0), true},
		{"string compare value", leafCond("count", "lt", "10"), true},
		{"non-numeric string rejected", leafCond("words", "gt", 1.0), false},
		{"empty string rejected", leafCond("empty", "lt", 1.0), false},
		{"list rejected", leafCond("listval", "lt", 2.0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.cond).Evaluate(ctx))
		})
	}
}

func TestContains(t *testing.T) {
	ctx := map[string]any{"description": "Enterprise SaaS platform", "version": 2.5}

	assert.True(t, Parse(leafCond("description", "contains", "SaaS")).Evaluate(ctx))
	assert.False(t, Parse(leafCond("description", "contains", "saas")).Evaluate(ctx))
	assert.True(t, Parse(leafCond("description", "icontains", "saas")).Evaluate(ctx))
	assert.True(t, Parse(leafCond("description", "icontains", "ENTERPRISE")).Evaluate(ctx))

	// Both sides coerce to strings.
	assert.True(t, Parse(leafCond("version", "contains", "2.5")).Evaluate(ctx))
}

func TestIn(t *testing.T) {
	ctx := map[string]any{"tier": "pro", "count": 2.0}

	assert.True(t, Parse(leafCond("tier", "in", []any{"free", "pro"})).Evaluate(ctx))
	assert.False(t, Parse(leafCond("tier", "in", []any{"free", "basic"})).Evaluate(ctx))
	assert.True(t, Parse(leafCond("count", "in", []any{1.0, 2.0})).Evaluate(ctx))

	// Compare value must be a list.
	assert.False(t, Parse(leafCond("tier", "in", "pro")).Evaluate(ctx))
	assert.False(t, Parse(leafCond("tier", "in", nil)).Evaluate(ctx))
}

func TestUnknownOp(t *testing.T) {
	ctx := map[string]any{"tier": "pro"}
	assert.False(t, Parse(leafCond("tier", "matches", "p.*")).Evaluate(ctx))
}

func TestNestedGroups(t *testing.T) {
	ctx := map[string]any{"tier": "pro", "region": "eu", "count": 9.0}

	c := map[string]any{"all": []any{
		leafCond("tier", "eq", "pro"),
		map[string]any{"any": []any{
			leafCond("region", "eq", "us"),
			leafCond("count", "gte", 5.0),
		}},
	}}

	assert.True(t, Parse(c).Evaluate(ctx))
}
