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

package pipeline

import (
	"math"
	"sort"
	"strconv"
)

// Context is the flat key-value state a run accumulates across steps.
// It is owned by the engine; all writes go through Merge.
type Context map[string]any

// NewContext seeds a run context. Preference order: the blueprint entity's
// input, then the submission input when it is an object (arrays are ignored).
func NewContext(entity *Entity, submissionInput any) Context {
	ctx := make(Context)

	if entity != nil && len(entity.Input) > 0 {
		for k, v := range entity.Input {
			ctx[k] = v
		}
		return ctx
	}

	if m, ok := submissionInput.(map[string]any); ok {
		for k, v := range m {
			ctx[k] = v
		}
	}

	return ctx
}

// Merge applies a step output with shallow right-biased semantics: output
// keys overwrite existing context keys. Nil and empty outputs are no-ops.
func (c Context) Merge(output map[string]any) {
	for k, v := range output {
		c[k] = v
	}
}

// Clone returns a shallow copy, used for step input payload snapshots.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StringField returns the context value for key when it is a non-empty
// string. Numbers are rendered; nil, empty strings, and other shapes
// report ok=false.
func (c Context) StringField(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", false
	}

	switch val := v.(type) {
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", false
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// FieldsUpdated lists the keys of output whose values are non-null, sorted.
// Used for timeline events.
func FieldsUpdated(output map[string]any) []string {
	if len(output) == 0 {
		return nil
	}

	fields := make([]string, 0, len(output))
	for k, v := range output {
		if v != nil {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// toFiniteNumber coerces JSON-shaped numeric values. Strings are not
// accepted here; this is for config blocks, not condition operands.
func toFiniteNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
