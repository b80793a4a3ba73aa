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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/enrich/pkg/pipeline"
)

type fakeAuxStore struct {
	icpBodies     []map[string]any
	companyBodies []map[string]any
	personBodies  []map[string]any
	err           error
}

func (f *fakeAuxStore) UpsertICPJobTitles(ctx context.Context, body map[string]any) error {
	f.icpBodies = append(f.icpBodies, body)
	return f.err
}

func (f *fakeAuxStore) UpsertCompanyIntelBriefing(ctx context.Context, body map[string]any) error {
	f.companyBodies = append(f.companyBodies, body)
	return f.err
}

func (f *fakeAuxStore) UpsertPersonIntelBriefing(ctx context.Context, body map[string]any) error {
	f.personBodies = append(f.personBodies, body)
	return f.err
}

func testRun() *pipeline.PipelineRun {
	return &pipeline.PipelineRun{
		ID:           "run-1",
		OrgID:        "org-1",
		CompanyID:    "co-1",
		SubmissionID: "sub-1",
	}
}

func TestPersister_RoutesByOperation(t *testing.T) {
	store := &fakeAuxStore{}
	persister := NewPersister(store, nil)

	env := &pipeline.OperationEnvelope{
		Status: pipeline.EnvelopeStatusFound,
		Output: map[string]any{"titles": []any{"CTO"}},
	}

	persister.Persist(context.Background(), testRun(), OpICPJobTitles, env)
	persister.Persist(context.Background(), testRun(), OpCompanyIntelBriefing, env)
	persister.Persist(context.Background(), testRun(), OpPersonIntelBriefing, env)

	assert.Len(t, store.icpBodies, 1)
	assert.Len(t, store.companyBodies, 1)
	assert.Len(t, store.personBodies, 1)

	body := store.icpBodies[0]
	assert.Equal(t, "run-1", body["pipeline_run_id"])
	assert.Equal(t, "org-1", body["org_id"])
	assert.Equal(t, env.Output, body["result"])
}

func TestPersister_SkipsNonResearchAndFailures(t *testing.T) {
	store := &fakeAuxStore{}
	persister := NewPersister(store, nil)

	found := &pipeline.OperationEnvelope{
		Status: pipeline.EnvelopeStatusFound,
		Output: map[string]any{"a": 1.0},
	}

	persister.Persist(context.Background(), testRun(), "company.find_domain", found)
	persister.Persist(context.Background(), testRun(), OpICPJobTitles, &pipeline.OperationEnvelope{
		Status: pipeline.EnvelopeStatusFailed,
	})
	persister.Persist(context.Background(), testRun(), OpICPJobTitles, &pipeline.OperationEnvelope{
		Status: pipeline.EnvelopeStatusFound,
	})

	assert.Empty(t, store.icpBodies)
	assert.Empty(t, store.companyBodies)
}

func TestPersister_SwallowsErrors(t *testing.T) {
	store := &fakeAuxStore{err: errors.New("store down")}
	persister := NewPersister(store, nil)

	// Must not panic or propagate.
	persister.Persist(context.Background(), testRun(), OpICPJobTitles, &pipeline.OperationEnvelope{
		Status: pipeline.EnvelopeStatusFound,
		Output: map[string]any{"a": 1.0},
	})

	assert.Len(t, store.icpBodies, 1)
}

func TestIsDeepResearchOperation(t *testing.T) {
	assert.True(t, IsDeepResearchOperation(OpICPJobTitles))
	assert.True(t, IsDeepResearchOperation(OpCompanyIntelBriefing))
	assert.True(t, IsDeepResearchOperation(OpPersonIntelBriefing))
	assert.False(t, IsDeepResearchOperation("company.find_domain"))
	assert.False(t, IsDeepResearchOperation(""))
}
