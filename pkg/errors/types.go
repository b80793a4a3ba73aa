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

package errors

import (
	"fmt"
)

// ValidationError represents malformed input data.
// Use this for invalid conditions, step configs, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "pipeline run", "step result")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvariantError represents a violated engine invariant, such as a scheduled
// step position with no pre-provisioned step result, or an enabled step with
// no operation id. Invariant violations are fatal to the run: the engine
// records them as the run's terminal failure message.
type InvariantError struct {
	// PipelineRunID is the run the violation was observed in
	PipelineRunID string

	// StepPosition is the step the violation relates to (0 if run-level)
	StepPosition int

	// Message describes the violated invariant
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.StepPosition > 0 {
		return fmt.Sprintf("invariant violation at step %d: %s", e.StepPosition, e.Message)
	}
	return fmt.Sprintf("invariant violation: %s", e.Message)
}

// APIError represents a non-2xx response from the internal data-engine API
// or the operations service.
type APIError struct {
	// Endpoint is the path that was called (e.g., "/api/internal/step-results/update")
	Endpoint string

	// StatusCode is the HTTP status code returned
	StatusCode int

	// Message is the error text from the response body
	Message string

	// Cause is the underlying error (e.g., a decode failure)
	Cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error %s", e.Endpoint)

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for missing environment variables or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "DATA_ENGINE_API_URL")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
