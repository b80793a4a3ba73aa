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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/enrich/internal/operation"
	"github.com/tombee/enrich/pkg/pipeline"
)

// parallelStub fakes the provider: a create response followed by a scripted
// sequence of status responses, then a result.
type parallelStub struct {
	t             *testing.T
	statusScript  []statusReply
	statusCalls   int
	resultStatus  int
	resultBody    string
	createStatus  int
	createdPrompt string
}

type statusReply struct {
	code   int
	status string
}

func (s *parallelStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(s.t, "test-key", r.Header.Get("x-api-key"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks/runs":
			var body map[string]any
			require.NoError(s.t, json.NewDecoder(r.Body).Decode(&body))
			s.createdPrompt, _ = body["input"].(string)

			if s.createStatus != 0 && s.createStatus != http.StatusOK {
				http.Error(w, "create rejected", s.createStatus)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"run_id": "task-1", "status": "queued"})

		case r.Method == http.MethodGet && r.URL.Path == "/v1/tasks/runs/task-1":
			reply := statusReply{code: http.StatusOK, status: "running"}
			if s.statusCalls < len(s.statusScript) {
				reply = s.statusScript[s.statusCalls]
			}
			s.statusCalls++

			if reply.code != http.StatusOK {
				http.Error(w, "status unavailable", reply.code)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"run_id": "task-1", "status": reply.status})

		case r.Method == http.MethodGet && r.URL.Path == "/v1/tasks/runs/task-1/result":
			if s.resultStatus != 0 && s.resultStatus != http.StatusOK {
				http.Error(w, "result unavailable", s.resultStatus)
				return
			}
			w.Write([]byte(s.resultBody))

		default:
			s.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}
}

func newTestPoller(t *testing.T, variant Variant, stub *parallelStub, opts ...PollerOption) *Poller {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	opts = append([]PollerOption{WithBaseURL(server.URL), WithPollInterval(0)}, opts...)
	poller, err := NewPoller(variant, "test-key", opts...)
	require.NoError(t, err)
	return poller
}

func icpInput() pipeline.Context {
	return pipeline.Context{
		"company_name": "Acme",
		"domain":       "acme.com",
	}
}

func TestPoller_MissingInputs(t *testing.T) {
	poller, err := NewPoller(ICPJobTitles(), "test-key")
	require.NoError(t, err)

	env, err := poller.Execute(context.Background(), &operation.Request{
		Input: pipeline.Context{"company_name": "Acme"},
	})
	require.NoError(t, err)

	assert.True(t, env.Failed())
	assert.Nil(t, env.Output)
	assert.Equal(t, []string{"domain"}, env.MissingInputs)
}

func TestPoller_AliasResolution(t *testing.T) {
	poller, err := NewPoller(ICPJobTitles(), "test-key")
	require.NoError(t, err)

	values, missing := poller.resolveFields(pipeline.Context{
		"companyName":    "Acme",
		"company_domain": "acme.com",
	})
	assert.Empty(t, missing)
	assert.Equal(t, "Acme", values["company_name"])
	assert.Equal(t, "acme.com", values["domain"])
	assert.Equal(t, "No description provided.", values["company_description"])
}

func TestPoller_MissingAPIKey(t *testing.T) {
	poller, err := NewPoller(ICPJobTitles(), "")
	require.NoError(t, err)

	env, err := poller.Execute(context.Background(), &operation.Request{Input: icpInput()})
	require.NoError(t, err)

	assert.True(t, env.Failed())
	require.Len(t, env.ProviderAttempts, 1)
	assert.Equal(t, "skipped", env.ProviderAttempts[0].Status)
	assert.Equal(t, SkipReasonMissingAPIKey, env.ProviderAttempts[0].SkipReason)
}

func TestPoller_CreateRejected(t *testing.T) {
	stub := &parallelStub{t: t, createStatus: http.StatusBadRequest}
	poller := newTestPoller(t, ICPJobTitles(), stub)

	env, err := poller.Execute(context.Background(), &operation.Request{Input: icpInput()})
	require.NoError(t, err)

	assert.True(t, env.Failed())
	require.Len(t, env.ProviderAttempts, 1)
	assert.Equal(t, "task_create_failed", env.ProviderAttempts[0].Error)
	assert.NotNil(t, env.ProviderAttempts[0].RawResponse)
}

func TestPoller_Timeout(t *testing.T) {
	stub := &parallelStub{t: t, statusScript: []statusReply{
		{http.StatusOK, "running"},
		{http.StatusOK, "running"},
		{http.StatusOK, "running"},
	}}
	poller := newTestPoller(t, ICPJobTitles(), stub, WithMaxAttempts(3))

	env, err := poller.Execute(context.Background(), &operation.Request{Input: icpInput()})
	require.NoError(t, err)

	assert.True(t, env.Failed())
	assert.Nil(t, env.Output)
	assert.Equal(t, "poll_timeout", env.Error)
	require.Len(t, env.ProviderAttempts, 1)

	attempt := env.ProviderAttempts[0]
	assert.Equal(t, "failed", attempt.Status)
	assert.Equal(t, "poll_timeout", attempt.Error)
	assert.Equal(t, 3, attempt.PollCount)
	assert.Equal(t, 3, attempt.MaxPollAttempts)
	assert.Equal(t, 3, stub.statusCalls)
}

func TestPoller_TaskFailed(t *testing.T) {
	stub := &parallelStub{t: t, statusScript: []statusReply{
		{http.StatusOK, "running"},
		{http.StatusOK, "failed"},
	}}
	poller := newTestPoller(t, ICPJobTitles(), stub, WithMaxAttempts(5))

	env, err := poller.Execute(context.Background(), &operation.Request{Input: icpInput()})
	require.NoError(t, err)

	assert.True(t, env.Failed())
	assert.Equal(t, "parallel_task_failed", env.Error)
	assert.Equal(t, 2, env.ProviderAttempts[0].PollCount)
}

func TestPoller_StatusErrorsConsumeAttempts(t *testing.T) {
	// Persistent 5xx on the status check consumes the attempt budget
	// without updating the task status.
	stub := &parallelStub{t: t, statusScript: []statusReply{
		{http.StatusInternalServerError, ""},
		{http.StatusInternalServerError, ""},
	}}
	poller := newTestPoller(t, ICPJobTitles(), stub, WithMaxAttempts(2))

	env, err := poller.Execute(context.Background(), &operation.Request{Input: icpInput()})
	require.NoError(t, err)

	assert.Equal(t, "poll_timeout", env.Error)
	assert.Equal(t, 2, env.ProviderAttempts[0].PollCount)
}

func TestPoller_Success(t *testing.T) {
	stub := &parallelStub{
		t: t,
		statusScript: []statusReply{
			{http.StatusOK, "running"},
			{http.StatusOK, "completed"},
		},
		resultBody: `{"titles": ["VP Engineering"]}`,
	}
	poller := newTestPoller(t, ICPJobTitles(), stub, WithMaxAttempts(5))

	env, err := poller.Execute(context.Background(), &operation.Request{Input: icpInput()})
	require.NoError(t, err)

	assert.Equal(t, pipeline.EnvelopeStatusFound, env.Status)
	assert.Equal(t, map[string]any{"titles": []any{"VP Engineering"}}, env.Output["parallel_raw_response"])
	assert.Equal(t, "Acme", env.Output["company_name"])
	assert.Equal(t, "acme.com", env.Output["domain"])
	assert.Equal(t, ProviderName, env.Provider())

	assert.Contains(t, stub.createdPrompt, "Acme")
	assert.Contains(t, stub.createdPrompt, "acme.com")
	assert.NotContains(t, stub.createdPrompt, "{company_name}")
}

func TestPoller_CompanyIntelEchoesBothDomainKeys(t *testing.T) {
	stub := &parallelStub{
		t:            t,
		statusScript: []statusReply{{http.StatusOK, "completed"}},
		resultBody:   `{"briefing": "..."}`,
	}
	poller := newTestPoller(t, CompanyIntelBriefing(), stub, WithMaxAttempts(5))

	env, err := poller.Execute(context.Background(), &operation.Request{Input: pipeline.Context{
		"client_company_name":        "SellerCo",
		"client_company_description": "We sell things.",
		"company_name":               "Acme",
		"domain":                     "acme.com",
	}})
	require.NoError(t, err)

	assert.Equal(t, "acme.com", env.Output["target_company_domain"])
	assert.Equal(t, "acme.com", env.Output["domain"])
	assert.Equal(t, "Acme", env.Output["target_company_name"])
}

func TestPoller_ResultFetchFailed(t *testing.T) {
	stub := &parallelStub{
		t:            t,
		statusScript: []statusReply{{http.StatusOK, "completed"}},
		resultStatus: http.StatusBadGateway,
	}
	poller := newTestPoller(t, ICPJobTitles(), stub, WithMaxAttempts(5))

	env, err := poller.Execute(context.Background(), &operation.Request{Input: icpInput()})
	require.NoError(t, err)

	assert.True(t, env.Failed())
	assert.True(t, strings.HasPrefix(env.Error, "result_fetch_failed"))
}

func TestPoller_Cancellation(t *testing.T) {
	stub := &parallelStub{t: t}
	poller := newTestPoller(t, ICPJobTitles(), stub, WithMaxAttempts(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := poller.Execute(ctx, &operation.Request{Input: icpInput()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoller_PersonIntelTitleAliases(t *testing.T) {
	poller, err := NewPoller(PersonIntelBriefing(), "test-key")
	require.NoError(t, err)

	base := pipeline.Context{
		"client_company_name":         "SellerCo",
		"client_company_description":  "We sell things.",
		"person_full_name":            "Jordan Lee",
		"person_current_company_name": "Acme",
	}

	for _, alias := range []string{"person_current_job_title", "title", "current_title"} {
		input := base.Clone()
		input[alias] = "CTO"

		values, missing := poller.resolveFields(input)
		assert.Empty(t, missing)
		assert.Equal(t, "CTO", values["person_current_job_title"], "alias %s", alias)
	}

	values, missing := poller.resolveFields(base)
	assert.Empty(t, missing)
	assert.Equal(t, "Unknown title", values["person_current_job_title"])
}
