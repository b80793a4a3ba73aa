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
	"context"

	"github.com/tombee/enrich/internal/metrics"
	"github.com/tombee/enrich/pkg/pipeline"
)

// extractFanOutEntities pulls the child-entity seeds from a fan-out step's
// output. Only mapping-valued entries of `results` are kept.
func extractFanOutEntities(output map[string]any) []map[string]any {
	if output == nil {
		return nil
	}
	results, ok := output["results"].([]any)
	if !ok {
		return nil
	}

	entities := make([]map[string]any, 0, len(results))
	for _, item := range results {
		if entity, ok := item.(map[string]any); ok {
			entities = append(entities, entity)
		}
	}
	return entities
}

// fanOut delegates child-run creation to the run store. Children resume at
// the parent step's position + 1. Returns the store response and the summary
// payload the parent step result is rewritten with.
func (e *Engine) fanOut(ctx context.Context, run *pipeline.PipelineRun, step *pipeline.StepSnapshot, env *pipeline.OperationEnvelope, cumulative pipeline.Context) (*pipeline.FanOutResponse, map[string]any, error) {
	startFrom := step.Position + 1
	entities := extractFanOutEntities(env.Output)

	resp, err := e.store.FanOut(ctx, &pipeline.FanOutRequest{
		ParentPipelineRunID:     run.ID,
		SubmissionID:            run.SubmissionID,
		OrgID:                   run.OrgID,
		CompanyID:               run.CompanyID,
		BlueprintSnapshot:       run.BlueprintSnapshot,
		FanOutEntities:          entities,
		StartFromPosition:       startFrom,
		ParentCumulativeContext: cumulative,
		FanOutOperationID:       step.OperationID,
		Provider:                env.Provider(),
		ProviderAttempts:        env.ProviderAttempts,
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.RecordFanOut(step.OperationID, len(resp.ChildRunIDs))

	summary := map[string]any{
		"fan_out":                        true,
		"child_run_ids":                  resp.ChildRunIDs,
		"child_count_created":            len(resp.ChildRunIDs),
		"child_count_skipped_duplicates": resp.SkippedDuplicatesCount,
		"start_from_position":            startFrom,
	}
	if len(resp.SkippedDuplicateIdentifiers) > 0 {
		summary["skipped_duplicate_identifiers"] = resp.SkippedDuplicateIdentifiers
	}

	return resp, summary, nil
}
