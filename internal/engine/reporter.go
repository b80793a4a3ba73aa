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
	"log/slog"

	"github.com/tombee/enrich/internal/metrics"
	"github.com/tombee/enrich/pkg/pipeline"
)

// stepEvent is everything the reporter needs to build one timeline row.
type stepEvent struct {
	Position         int
	OperationID      string
	Status           pipeline.StepStatus
	SkipReason       string
	DurationMS       *int64
	ProviderAttempts []pipeline.ProviderAttempt
	OperationResult  map[string]any
	FieldsUpdated    []string
}

// reporter emits timeline events for step transitions. Emission is
// best-effort: a failed write is logged and counted, never propagated, and
// always happens after the corresponding step-result write.
type reporter struct {
	store  Store
	run    *pipeline.PipelineRun
	logger *slog.Logger
}

// emit writes one timeline row. The event's entity type is derived from the
// step's operation id, not from the run-level entity.
func (r *reporter) emit(ctx context.Context, event stepEvent) {
	row := &pipeline.TimelineEvent{
		OrgID:            r.run.OrgID,
		CompanyID:        r.run.CompanyID,
		SubmissionID:     r.run.SubmissionID,
		PipelineRunID:    r.run.ID,
		EntityType:       pipeline.EntityTypeForOperation(event.OperationID),
		StepPosition:     event.Position,
		OperationID:      event.OperationID,
		Status:           event.Status,
		SkipReason:       event.SkipReason,
		DurationMS:       event.DurationMS,
		ProviderAttempts: event.ProviderAttempts,
		OperationResult:  event.OperationResult,
		FieldsUpdated:    event.FieldsUpdated,
	}

	if err := r.store.RecordTimelineEvent(ctx, row); err != nil {
		metrics.RecordBestEffortFailure("timeline")
		r.logger.Warn("timeline emission failed",
			slog.Int("step_position", event.Position),
			slog.String("operation_id", event.OperationID),
			slog.Any("error", err))
	}
}
