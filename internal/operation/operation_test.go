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

package operation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/enrich/pkg/errors"
	"github.com/tombee/enrich/pkg/pipeline"
)

type stubExecutor struct {
	envelope *pipeline.OperationEnvelope
}

func (s *stubExecutor) Execute(ctx context.Context, req *Request) (*pipeline.OperationEnvelope, error) {
	return s.envelope, nil
}

func TestRegistry_Resolve(t *testing.T) {
	fallback := &stubExecutor{envelope: &pipeline.OperationEnvelope{Status: "found"}}
	special := &stubExecutor{envelope: &pipeline.OperationEnvelope{Status: "failed"}}

	registry := NewRegistry(fallback)
	registry.Register("company.derive.icp_job_titles", special)

	assert.Same(t, Executor(special), registry.Resolve("company.derive.icp_job_titles"))
	assert.Same(t, Executor(fallback), registry.Resolve("company.find_domain"))
	assert.Same(t, Executor(fallback), registry.Resolve(""))
}

func newGenericExecutor(t *testing.T, handler http.HandlerFunc) *GenericExecutor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	executor, err := NewGenericExecutor(server.URL, "ops-key", nil, server.Client())
	require.NoError(t, err)
	return executor
}

func TestGenericExecutor_Execute(t *testing.T) {
	var gotPath, gotAuth, gotOrg, gotCompany string
	var gotBody map[string]any

	executor := newGenericExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get(headerOrgID)
		gotCompany = r.Header.Get(headerCompanyID)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status": "found",
				"output": map[string]any{"domain": "acme.com"},
				"provider_attempts": []any{
					map[string]any{"provider": "clearbit", "status": "found"},
				},
			},
		})
	})

	envelope, err := executor.Execute(context.Background(), &Request{
		OperationID: "company.find_domain",
		EntityType:  pipeline.EntityCompany,
		OrgID:       "org-1",
		CompanyID:   "co-1",
		Input:       pipeline.Context{"company_name": "Acme"},
		Options:     map[string]any{"strict": true},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/execute", gotPath)
	assert.Equal(t, "Bearer ops-key", gotAuth)
	assert.Equal(t, "org-1", gotOrg)
	assert.Equal(t, "co-1", gotCompany)
	assert.Equal(t, "company.find_domain", gotBody["operation_id"])
	assert.Equal(t, "company", gotBody["entity_type"])
	assert.Equal(t, map[string]any{"company_name": "Acme"}, gotBody["input"])
	assert.Equal(t, map[string]any{"strict": true}, gotBody["options"])

	assert.Equal(t, "found", envelope.Status)
	assert.Equal(t, "acme.com", envelope.Output["domain"])
	assert.Equal(t, "clearbit", envelope.Provider())
}

func TestGenericExecutor_NonSuccessStatus(t *testing.T) {
	executor := newGenericExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "operation not registered", http.StatusUnprocessableEntity)
	})

	_, err := executor.Execute(context.Background(), &Request{OperationID: "company.unknown"})
	require.Error(t, err)

	var apiErr *errors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "operation not registered")
}

func TestGenericExecutor_MissingData(t *testing.T) {
	executor := newGenericExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": nil})
	})

	_, err := executor.Execute(context.Background(), &Request{OperationID: "company.find_domain"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data envelope")
}

func TestGenericExecutor_ErrorEnvelope(t *testing.T) {
	executor := newGenericExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "backend unavailable"})
	})

	_, err := executor.Execute(context.Background(), &Request{OperationID: "company.find_domain"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
}

func TestNewGenericExecutor_RequiresBaseURL(t *testing.T) {
	_, err := NewGenericExecutor("", "key", nil, nil)
	assert.True(t, errors.IsConfig(err))
}

func TestGenericExecutor_RequiresOperationID(t *testing.T) {
	executor := newGenericExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := executor.Execute(context.Background(), &Request{})
	require.Error(t, err)

	var validationErr *errors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "operation_id", validationErr.Field)
}
