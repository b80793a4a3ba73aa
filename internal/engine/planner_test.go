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

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/enrich/pkg/pipeline"
)

func boolPtr(b bool) *bool { return &b }

func plannedPositions(plan *Plan) []int {
	positions := make([]int, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		positions = append(positions, step.Snapshot.Position)
	}
	return positions
}

func TestBuildPlan_OrdersAndFilters(t *testing.T) {
	run := &pipeline.PipelineRun{
		BlueprintSnapshot: pipeline.BlueprintSnapshot{
			Steps: []pipeline.StepSnapshot{
				{Position: 3, OperationID: "c"},
				{Position: 1, OperationID: "a"},
				{Position: 2, OperationID: "b", IsEnabled: boolPtr(false)},
			},
		},
	}

	plan := BuildPlan(run)
	assert.Equal(t, 1, plan.StartPosition)
	assert.Equal(t, []int{1, 3}, plannedPositions(plan))

	// The index covers disabled steps too.
	require.NotNil(t, plan.StepAt(2))
	assert.Equal(t, "b", plan.StepAt(2).OperationID)
	assert.Nil(t, plan.StepAt(4))
}

func TestBuildPlan_StartFromFanOut(t *testing.T) {
	run := &pipeline.PipelineRun{
		BlueprintSnapshot: pipeline.BlueprintSnapshot{
			Steps: []pipeline.StepSnapshot{
				{Position: 1, OperationID: "a"},
				{Position: 2, OperationID: "b"},
				{Position: 3, OperationID: "c"},
			},
			FanOut: &pipeline.FanOutMetadata{ParentPipelineRunID: "run-0", StartFromPosition: 2},
		},
		StepResults: []pipeline.StepResult{
			{ID: "sr-2", StepPosition: 2, Status: pipeline.StepStatusPending},
			{ID: "sr-3", StepPosition: 3, Status: pipeline.StepStatusPending},
		},
	}

	plan := BuildPlan(run)
	assert.Equal(t, 2, plan.StartPosition)
	assert.Equal(t, []int{2, 3}, plannedPositions(plan))
}

func TestBuildPlan_StartFromMinStepResult(t *testing.T) {
	run := &pipeline.PipelineRun{
		BlueprintSnapshot: pipeline.BlueprintSnapshot{
			Steps: []pipeline.StepSnapshot{
				{Position: 1, OperationID: "a"},
				{Position: 2, OperationID: "b"},
			},
		},
		StepResults: []pipeline.StepResult{
			{ID: "sr-2", StepPosition: 2},
		},
	}

	plan := BuildPlan(run)
	assert.Equal(t, 2, plan.StartPosition)
	assert.Equal(t, []int{2}, plannedPositions(plan))
}

func TestBuildPlan_ZeroFanOutPositionIgnored(t *testing.T) {
	run := &pipeline.PipelineRun{
		BlueprintSnapshot: pipeline.BlueprintSnapshot{
			Steps:  []pipeline.StepSnapshot{{Position: 1, OperationID: "a"}},
			FanOut: &pipeline.FanOutMetadata{StartFromPosition: 0},
		},
		StepResults: []pipeline.StepResult{{ID: "sr-1", StepPosition: 1}},
	}

	assert.Equal(t, 1, BuildPlan(run).StartPosition)
}

func TestBuildPlan_ParsesConditions(t *testing.T) {
	run := &pipeline.PipelineRun{
		BlueprintSnapshot: pipeline.BlueprintSnapshot{
			Steps: []pipeline.StepSnapshot{
				{
					Position:    1,
					OperationID: "a",
					StepConfig: map[string]any{
						"condition": map[string]any{"field": "tier", "op": "eq", "value": "pro"},
					},
				},
			},
		},
	}

	plan := BuildPlan(run)
	require.Len(t, plan.Steps, 1)

	condition := plan.Steps[0].Condition
	assert.True(t, condition.Evaluate(pipeline.Context{"tier": "pro"}))
	assert.False(t, condition.Evaluate(pipeline.Context{"tier": "free"}))
}

func TestPlan_StepsAfter(t *testing.T) {
	run := &pipeline.PipelineRun{
		BlueprintSnapshot: pipeline.BlueprintSnapshot{
			Steps: []pipeline.StepSnapshot{
				{Position: 1, OperationID: "a"},
				{Position: 2, OperationID: "b"},
				{Position: 3, OperationID: "c"},
			},
		},
	}

	plan := BuildPlan(run)

	after := plan.StepsAfter(1)
	require.Len(t, after, 2)
	assert.Equal(t, 2, after[0].Snapshot.Position)
	assert.Equal(t, 3, after[1].Snapshot.Position)

	assert.Empty(t, plan.StepsAfter(3))
}

func TestExtractFanOutEntities(t *testing.T) {
	assert.Nil(t, extractFanOutEntities(nil))
	assert.Nil(t, extractFanOutEntities(map[string]any{"results": "not a list"}))

	entities := extractFanOutEntities(map[string]any{
		"results": []any{
			map[string]any{"x": 1.0},
			"dropped",
			map[string]any{"x": 2.0},
			nil,
		},
	})
	require.Len(t, entities, 2)
	assert.Equal(t, 1.0, entities[0]["x"])
	assert.Equal(t, 2.0, entities[1]["x"])
}
