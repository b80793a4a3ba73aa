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

package api

import (
	"context"
	"net/http"

	"github.com/tombee/enrich/pkg/errors"
	"github.com/tombee/enrich/pkg/pipeline"
)

// GetPipelineRun loads the pipeline run with its blueprint snapshot and
// pre-provisioned step results. An unknown run id surfaces as a
// NotFoundError.
func (c *Client) GetPipelineRun(ctx context.Context, pipelineRunID string) (*pipeline.PipelineRun, error) {
	var run pipeline.PipelineRun
	err := c.post(ctx, "/api/internal/pipeline-runs/get", map[string]any{
		"pipeline_run_id": pipelineRunID,
	}, &run)
	if err != nil {
		if errors.APIStatus(err) == http.StatusNotFound {
			return nil, &errors.NotFoundError{Resource: "pipeline run", ID: pipelineRunID}
		}
		return nil, err
	}
	return &run, nil
}

// UpdateRunStatus transitions a pipeline run. Error message and details are
// only sent when non-empty.
func (c *Client) UpdateRunStatus(ctx context.Context, pipelineRunID string, status pipeline.RunStatus, errorMessage string, errorDetails map[string]any) error {
	body := map[string]any{
		"pipeline_run_id": pipelineRunID,
		"status":          status,
	}
	if errorMessage != "" {
		body["error_message"] = errorMessage
	}
	if len(errorDetails) > 0 {
		body["error_details"] = errorDetails
	}
	return c.post(ctx, "/api/internal/pipeline-runs/update-status", body, nil)
}

// FanOut asks the run store to create child runs for the given entities.
func (c *Client) FanOut(ctx context.Context, req *pipeline.FanOutRequest) (*pipeline.FanOutResponse, error) {
	var resp pipeline.FanOutResponse
	if err := c.post(ctx, "/api/internal/pipeline-runs/fan-out", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncSubmissionStatus recomputes the submission's derived status from its
// runs. Called after every run-status transition.
func (c *Client) SyncSubmissionStatus(ctx context.Context, submissionID string) error {
	return c.post(ctx, "/api/internal/submissions/sync-status", map[string]any{
		"submission_id": submissionID,
	}, nil)
}

// StepResultUpdate is the update-step-result request body. Zero-valued
// optional fields are omitted from the wire.
type StepResultUpdate struct {
	StepResultID  string              `json:"step_result_id"`
	Status        pipeline.StepStatus `json:"status"`
	InputPayload  map[string]any      `json:"input_payload,omitempty"`
	OutputPayload map[string]any      `json:"output_payload,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	ErrorDetails  map[string]any      `json:"error_details,omitempty"`
}

// UpdateStepResult writes a step-result transition and returns the updated
// row, which carries the store-computed duration.
func (c *Client) UpdateStepResult(ctx context.Context, update *StepResultUpdate) (*pipeline.StepResult, error) {
	var row pipeline.StepResult
	if err := c.post(ctx, "/api/internal/step-results/update", update, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkRemainingSkipped marks every non-terminal step result at or after the
// given position as skipped, returning the affected rows. Calling it again
// with the same position returns an empty set.
func (c *Client) MarkRemainingSkipped(ctx context.Context, pipelineRunID string, fromStepPosition int) ([]pipeline.StepResult, error) {
	var rows []pipeline.StepResult
	err := c.post(ctx, "/api/internal/step-results/mark-remaining-skipped", map[string]any{
		"pipeline_run_id":    pipelineRunID,
		"from_step_position": fromStepPosition,
	}, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CheckFreshness asks the entity-state store whether a matching entity was
// enriched within the freshness window.
func (c *Client) CheckFreshness(ctx context.Context, entityType pipeline.EntityType, identifiers map[string]string, maxAgeHours float64) (*pipeline.FreshnessRecord, error) {
	var record pipeline.FreshnessRecord
	err := c.post(ctx, "/api/internal/entity-state/check-freshness", map[string]any{
		"entity_type":   entityType,
		"identifiers":   identifiers,
		"max_age_hours": maxAgeHours,
	}, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpsertEntityState persists the run's cumulative context as the entity's
// canonical enrichment state. An empty lastOperationID is sent as null:
// a run whose steps were all skipped has no operation to attribute.
func (c *Client) UpsertEntityState(ctx context.Context, pipelineRunID string, entityType pipeline.EntityType, cumulativeContext pipeline.Context, lastOperationID string) error {
	var lastOp any
	if lastOperationID != "" {
		lastOp = lastOperationID
	}
	return c.post(ctx, "/api/internal/entity-state/upsert", map[string]any{
		"pipeline_run_id":    pipelineRunID,
		"entity_type":        entityType,
		"cumulative_context": cumulativeContext,
		"last_operation_id":  lastOp,
	}, nil)
}

// RecordTimelineEvent writes a denormalised timeline row. Callers treat
// failures as best-effort; this method still surfaces them.
func (c *Client) RecordTimelineEvent(ctx context.Context, event *pipeline.TimelineEvent) error {
	return c.post(ctx, "/api/internal/entity-timeline/record-step-event", event, nil)
}

// UpsertICPJobTitles writes a deep-research ICP job-titles result to its
// dedicated store.
func (c *Client) UpsertICPJobTitles(ctx context.Context, body map[string]any) error {
	return c.post(ctx, "/api/internal/icp-job-titles/upsert", body, nil)
}

// UpsertCompanyIntelBriefing writes a company intel briefing to its
// dedicated store.
func (c *Client) UpsertCompanyIntelBriefing(ctx context.Context, body map[string]any) error {
	return c.post(ctx, "/api/internal/company-intel-briefings/upsert", body, nil)
}

// UpsertPersonIntelBriefing writes a person intel briefing to its
// dedicated store.
func (c *Client) UpsertPersonIntelBriefing(ctx context.Context, body map[string]any) error {
	return c.post(ctx, "/api/internal/person-intel-briefings/upsert", body, nil)
}
