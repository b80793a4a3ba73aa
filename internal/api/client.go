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

// Package api is the client for the internal data-engine HTTP API: the
// pipeline-run, step-result, entity-state, timeline, and submission stores.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tombee/enrich/internal/tracing"
	"github.com/tombee/enrich/pkg/errors"
	"github.com/tombee/enrich/pkg/httpclient"
)

// Client talks to the internal data-engine API. All endpoints are POST,
// JSON in, `{data, error?}` envelope out.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		cfg := defaultClientConfig()
		cfg.Timeout = timeout
		client, err := httpclient.New(cfg)
		if err != nil {
			return err
		}
		c.httpClient = client
		return nil
	}
}

func defaultClientConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "enrich-engine/1.0"
	return cfg
}

// New creates a client for the given base URL and bearer token.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, &errors.ConfigError{Key: "base_url", Reason: "internal API base URL is required"}
	}
	if apiKey == "" {
		return nil, &errors.ConfigError{Key: "api_key", Reason: "internal API key is required"}
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		client, err := httpclient.New(defaultClientConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = client
	}

	return c, nil
}

// envelope is the internal API's uniform response shape.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// post sends a JSON body and decodes the data envelope into out.
// Pass a nil out to discard the data block.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	tracing.InjectIntoRequest(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errors.APIError{Endpoint: path, Cause: err, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.APIError{Endpoint: path, StatusCode: resp.StatusCode, Cause: err, Message: "failed to read response body"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &errors.APIError{Endpoint: path, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &errors.APIError{Endpoint: path, StatusCode: resp.StatusCode, Cause: err, Message: "invalid response envelope"}
	}
	if env.Error != "" {
		return &errors.APIError{Endpoint: path, StatusCode: resp.StatusCode, Message: env.Error}
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return &errors.APIError{Endpoint: path, StatusCode: resp.StatusCode, Message: "response missing data envelope"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &errors.APIError{Endpoint: path, StatusCode: resp.StatusCode, Cause: err, Message: "failed to decode data envelope"}
	}

	return nil
}
