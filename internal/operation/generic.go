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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tombee/enrich/internal/tracing"
	"github.com/tombee/enrich/pkg/errors"
	"github.com/tombee/enrich/pkg/httpclient"
	"github.com/tombee/enrich/pkg/pipeline"
)

// Headers the operations service requires alongside the bearer token.
const (
	headerOrgID     = "x-internal-org-id"
	headerCompanyID = "x-internal-company-id"
)

// GenericExecutor posts steps to the operations service's execute endpoint.
// It is the default target of the registry.
type GenericExecutor struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewGenericExecutor creates the default remote-operation executor.
func NewGenericExecutor(baseURL, apiKey string, logger *slog.Logger, client *http.Client) (*GenericExecutor, error) {
	if baseURL == "" {
		return nil, &errors.ConfigError{Key: "operations_api_url", Reason: "operations service URL is required"}
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
	if logger == nil {
		logger = slog.Default()
	}

	return &GenericExecutor{
		httpClient: client,
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
	}, nil
}

// executeResponse is the operations service's response envelope.
type executeResponse struct {
	Data  *pipeline.OperationEnvelope `json:"data"`
	Error string                      `json:"error,omitempty"`
}

// Execute posts the step to the operations service and returns its envelope
// unchanged.
func (e *GenericExecutor) Execute(ctx context.Context, req *Request) (*pipeline.OperationEnvelope, error) {
	if req.OperationID == "" {
		return nil, &errors.ValidationError{
			Field:   "operation_id",
			Message: "operation id is required",
		}
	}

	body, err := json.Marshal(map[string]any{
		"operation_id": req.OperationID,
		"entity_type":  req.EntityType,
		"input":        req.Input,
		"options":      req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode execute request: %w", err)
	}

	endpoint := e.baseURL + "/api/v1/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set(headerOrgID, req.OrgID)
	httpReq.Header.Set(headerCompanyID, req.CompanyID)
	tracing.InjectIntoRequest(ctx, httpReq)

	e.logger.Debug("executing remote operation",
		slog.String("operation_id", req.OperationID),
		slog.String("entity_type", string(req.EntityType)))

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.APIError{Endpoint: "/api/v1/execute", Cause: err, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.APIError{Endpoint: "/api/v1/execute", StatusCode: resp.StatusCode, Cause: err, Message: "failed to read response body"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errors.APIError{
			Endpoint:   "/api/v1/execute",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("operation %s failed: %s", req.OperationID, string(respBody)),
		}
	}

	var decoded executeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &errors.APIError{Endpoint: "/api/v1/execute", StatusCode: resp.StatusCode, Cause: err, Message: "invalid execute response"}
	}
	if decoded.Error != "" {
		return nil, &errors.APIError{Endpoint: "/api/v1/execute", StatusCode: resp.StatusCode, Message: decoded.Error}
	}
	if decoded.Data == nil {
		return nil, &errors.APIError{
			Endpoint:   "/api/v1/execute",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("operation %s returned no data envelope", req.OperationID),
		}
	}

	return decoded.Data, nil
}
