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

package research

import (
	"context"
	"log/slog"

	"github.com/tombee/enrich/internal/metrics"
	"github.com/tombee/enrich/pkg/pipeline"
)

// AuxStore is the dedicated-store surface for deep-research artifacts.
// Implemented by the internal API client.
type AuxStore interface {
	UpsertICPJobTitles(ctx context.Context, body map[string]any) error
	UpsertCompanyIntelBriefing(ctx context.Context, body map[string]any) error
	UpsertPersonIntelBriefing(ctx context.Context, body map[string]any) error
}

// Persister mirrors successful deep-research outputs into their dedicated
// stores. Every write is best-effort: failures are logged and never reach
// the engine's critical path.
type Persister struct {
	store  AuxStore
	logger *slog.Logger
}

// NewPersister creates a best-effort auxiliary persister.
func NewPersister(store AuxStore, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: store, logger: logger}
}

// IsDeepResearchOperation reports whether an operation id has a dedicated
// store.
func IsDeepResearchOperation(operationID string) bool {
	switch operationID {
	case OpICPJobTitles, OpCompanyIntelBriefing, OpPersonIntelBriefing:
		return true
	}
	return false
}

// Persist writes the envelope output to the operation's dedicated store.
// No-op unless the operation is a deep-research one with a found envelope
// carrying output.
func (p *Persister) Persist(ctx context.Context, run *pipeline.PipelineRun, operationID string, env *pipeline.OperationEnvelope) {
	if env == nil || env.Failed() || env.Output == nil {
		return
	}

	body := map[string]any{
		"org_id":          run.OrgID,
		"company_id":      run.CompanyID,
		"submission_id":   run.SubmissionID,
		"pipeline_run_id": run.ID,
		"result":          env.Output,
	}

	var err error
	switch operationID {
	case OpICPJobTitles:
		err = p.store.UpsertICPJobTitles(ctx, body)
	case OpCompanyIntelBriefing:
		err = p.store.UpsertCompanyIntelBriefing(ctx, body)
	case OpPersonIntelBriefing:
		err = p.store.UpsertPersonIntelBriefing(ctx, body)
	default:
		return
	}

	if err != nil {
		metrics.RecordBestEffortFailure("aux_store")
		p.logger.Warn("auxiliary store upsert failed",
			slog.String("operation_id", operationID),
			slog.String("pipeline_run_id", run.ID),
			slog.Any("error", err))
	}
}
