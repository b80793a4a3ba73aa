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

// Package research implements the deep-research executors: long-running
// provider tasks created, polled, and fetched through the Parallel API,
// one specialised variant per derive operation.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tombee/enrich/pkg/httpclient"
)

// DefaultBaseURL is the Parallel task API endpoint.
const DefaultBaseURL = "https://api.parallel.ai"

// taskRun is the provider's task record, as much of it as the poller needs.
type taskRun struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// Provider task statuses the poll loop branches on.
const (
	taskStatusCompleted = "completed"
	taskStatusFailed    = "failed"
)

// parallelClient is a thin wrapper over the three Parallel endpoints. Status
// codes are returned alongside bodies so the poller can apply its own
// non-2xx semantics per phase.
type parallelClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newParallelClient(baseURL, apiKey string, client *http.Client) (*parallelClient, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "enrich-engine/1.0"
		var err error
		client, err = httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
	}
	return &parallelClient{httpClient: client, baseURL: baseURL, apiKey: apiKey}, nil
}

func (c *parallelClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// createTask submits the prompt and returns the provider's task record.
func (c *parallelClient) createTask(ctx context.Context, prompt, processor string) (int, []byte, *taskRun, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/v1/tasks/runs", map[string]any{
		"input":     prompt,
		"processor": processor,
	})
	if err != nil || status < 200 || status > 299 {
		return status, body, nil, err
	}

	var run taskRun
	if err := json.Unmarshal(body, &run); err != nil {
		return status, body, nil, fmt.Errorf("invalid task response: %w", err)
	}
	return status, body, &run, nil
}

// taskStatus fetches the task's current status.
func (c *parallelClient) taskStatus(ctx context.Context, runID string) (int, string, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/v1/tasks/runs/"+runID, nil)
	if err != nil || status < 200 || status > 299 {
		return status, "", err
	}

	var run taskRun
	if err := json.Unmarshal(body, &run); err != nil {
		return status, "", fmt.Errorf("invalid status response: %w", err)
	}
	return status, run.Status, nil
}

// taskResult fetches the completed task's opaque result document.
func (c *parallelClient) taskResult(ctx context.Context, runID string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, "/v1/tasks/runs/"+runID+"/result", nil)
}

// decodeRaw turns a provider body into the JSON value embedded in envelopes,
// falling back to the raw string when the body is not JSON.
func decodeRaw(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
