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

// Package engine runs one pipeline run to a terminal state: plan the steps,
// gate each on its condition and freshness, dispatch to an executor, merge
// output into the cumulative context, and report every transition.
package engine

import (
	"context"

	"github.com/tombee/enrich/internal/api"
	"github.com/tombee/enrich/pkg/pipeline"
)

// Store is the engine's view of the internal data-engine API. HTTP is the
// only synchronisation primitive; the engine holds no locks across calls.
type Store interface {
	GetPipelineRun(ctx context.Context, pipelineRunID string) (*pipeline.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, pipelineRunID string, status pipeline.RunStatus, errorMessage string, errorDetails map[string]any) error
	FanOut(ctx context.Context, req *pipeline.FanOutRequest) (*pipeline.FanOutResponse, error)
	SyncSubmissionStatus(ctx context.Context, submissionID string) error
	UpdateStepResult(ctx context.Context, update *api.StepResultUpdate) (*pipeline.StepResult, error)
	MarkRemainingSkipped(ctx context.Context, pipelineRunID string, fromStepPosition int) ([]pipeline.StepResult, error)
	CheckFreshness(ctx context.Context, entityType pipeline.EntityType, identifiers map[string]string, maxAgeHours float64) (*pipeline.FreshnessRecord, error)
	UpsertEntityState(ctx context.Context, pipelineRunID string, entityType pipeline.EntityType, cumulativeContext pipeline.Context, lastOperationID string) error
	RecordTimelineEvent(ctx context.Context, event *pipeline.TimelineEvent) error
}
