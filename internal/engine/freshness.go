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

	"github.com/tombee/enrich/pkg/pipeline"
)

// freshnessGate decides whether a step can be satisfied from the entity
// state store instead of live execution. Failures never block the step: any
// error falls through to live execution.
type freshnessGate struct {
	store  Store
	logger *slog.Logger
}

// check returns a fresh record when the step's skip_if_fresh spec matches a
// recent canonical entity, nil otherwise.
func (g *freshnessGate) check(ctx context.Context, step *pipeline.StepSnapshot, runContext pipeline.Context) *pipeline.FreshnessRecord {
	spec := pipeline.FreshnessSpecFromConfig(step.StepConfig)
	if spec == nil {
		return nil
	}

	identifiers := make(map[string]string, len(spec.IdentityFields))
	for _, field := range spec.IdentityFields {
		if value, ok := runContext.StringField(field); ok {
			identifiers[field] = value
		}
	}
	if len(identifiers) == 0 {
		// Nothing to match on; a lookup would never identify an entity.
		return nil
	}

	entityType := pipeline.EntityTypeForOperation(step.OperationID)
	record, err := g.store.CheckFreshness(ctx, entityType, identifiers, spec.MaxAgeHours)
	if err != nil {
		g.logger.Warn("freshness check failed, executing live",
			slog.Int("step_position", step.Position),
			slog.String("operation_id", step.OperationID),
			slog.Any("error", err))
		return nil
	}
	if record == nil || !record.Fresh {
		return nil
	}

	return record
}
