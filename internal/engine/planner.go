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
	"sort"

	"github.com/tombee/enrich/pkg/pipeline"
	"github.com/tombee/enrich/pkg/pipeline/cond"
)

// PlannedStep is one executable step with its condition parsed up front.
type PlannedStep struct {
	Snapshot  *pipeline.StepSnapshot
	Condition *cond.Condition
}

// Plan is the ordered execution schedule for one run.
type Plan struct {
	// Steps are the executable steps: enabled, at or after StartPosition,
	// strictly ascending by position.
	Steps []PlannedStep

	// StartPosition is the resume window's lower bound.
	StartPosition int

	byPosition map[int]*pipeline.StepSnapshot
}

// BuildPlan orders and filters the run's steps.
//
// The start position comes from fan-out metadata when present, otherwise
// from the minimum pre-provisioned step-result position, otherwise 1.
func BuildPlan(run *pipeline.PipelineRun) *Plan {
	start := 1
	if fanOut := run.BlueprintSnapshot.FanOut; fanOut != nil && fanOut.StartFromPosition > 0 {
		start = fanOut.StartFromPosition
	} else if len(run.StepResults) > 0 {
		start = run.StepResults[0].StepPosition
		for _, result := range run.StepResults[1:] {
			if result.StepPosition < start {
				start = result.StepPosition
			}
		}
	}

	snapshots := run.BlueprintSnapshot.Steps
	ordered := make([]*pipeline.StepSnapshot, len(snapshots))
	for i := range snapshots {
		ordered[i] = &snapshots[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	plan := &Plan{
		StartPosition: start,
		byPosition:    make(map[int]*pipeline.StepSnapshot, len(ordered)),
	}
	for _, snapshot := range ordered {
		plan.byPosition[snapshot.Position] = snapshot
		if snapshot.Enabled() && snapshot.Position >= start {
			plan.Steps = append(plan.Steps, PlannedStep{
				Snapshot:  snapshot,
				Condition: cond.Parse(snapshot.RawCondition()),
			})
		}
	}

	return plan
}

// StepAt returns the snapshot at a position, planned or not. Used when
// emitting events for downstream steps by position.
func (p *Plan) StepAt(position int) *pipeline.StepSnapshot {
	return p.byPosition[position]
}

// StepsAfter returns the planned steps strictly after the given position,
// in ascending order.
func (p *Plan) StepsAfter(position int) []PlannedStep {
	for i, step := range p.Steps {
		if step.Snapshot.Position > position {
			return p.Steps[i:]
		}
	}
	return nil
}
