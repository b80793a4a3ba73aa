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

// Package pipeline defines the data model shared by the pipeline-run engine,
// its executors, and the internal data-engine API client.
package pipeline

import (
	"encoding/json"
)

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StepStatus represents the execution status of a single step.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started yet.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates the step is currently executing.
	StepStatusRunning StepStatus = "running"
	// StepStatusSucceeded indicates the step completed successfully.
	StepStatusSucceeded StepStatus = "succeeded"
	// StepStatusFailed indicates the step failed.
	StepStatusFailed StepStatus = "failed"
	// StepStatusSkipped indicates the step was skipped.
	StepStatusSkipped StepStatus = "skipped"
)

// Skip reasons recorded on skipped step results and timeline events.
const (
	SkipReasonConditionNotMet   = "condition_not_met"
	SkipReasonParentCondition   = "parent_step_condition_not_met"
	SkipReasonEntityStateFresh  = "entity_state_fresh"
	SkipReasonEarlierStepFailed = "earlier_step_failed"
)

// PipelineRun is the record loaded once per engine invocation.
type PipelineRun struct {
	ID                string            `json:"id"`
	OrgID             string            `json:"org_id"`
	CompanyID         string            `json:"company_id"`
	SubmissionID      string            `json:"submission_id"`
	SubmissionInput   any               `json:"submission_input,omitempty"`
	Status            RunStatus         `json:"status,omitempty"`
	BlueprintSnapshot BlueprintSnapshot `json:"blueprint_snapshot"`

	// StepResults are pre-provisioned placeholders, one per step,
	// created with status pending when the run was scheduled.
	StepResults []StepResult `json:"step_results,omitempty"`
}

// BlueprintSnapshot is the frozen copy of the blueprint a run executes.
type BlueprintSnapshot struct {
	// Config is the original blueprint config, opaque to the engine.
	Config map[string]any  `json:"config,omitempty"`
	Steps  []StepSnapshot  `json:"steps"`
	Entity *Entity         `json:"entity,omitempty"`
	FanOut *FanOutMetadata `json:"fan_out,omitempty"`
}

// FanOutMetadata marks a run as the child of a fan-out step.
type FanOutMetadata struct {
	ParentPipelineRunID string `json:"parent_pipeline_run_id,omitempty"`
	StartFromPosition   int    `json:"start_from_position,omitempty"`
}

// StepSnapshot is one step of a blueprint snapshot.
type StepSnapshot struct {
	// Position is 1-based. The engine assumes strict ordering only,
	// not contiguity.
	Position    int            `json:"position"`
	OperationID string         `json:"operation_id"`
	StepConfig  map[string]any `json:"step_config,omitempty"`

	// Condition is the raw condition tree; step_config.condition is the
	// fallback location. Parsed once at planning time.
	Condition json.RawMessage `json:"condition,omitempty"`

	FanOut    bool  `json:"fan_out,omitempty"`
	IsEnabled *bool `json:"is_enabled,omitempty"`
}

// Enabled reports whether the step may execute. Absent is_enabled means true.
func (s *StepSnapshot) Enabled() bool {
	return s.IsEnabled == nil || *s.IsEnabled
}

// RawCondition returns the step's condition tree: the top-level condition
// field when present, otherwise step_config.condition.
func (s *StepSnapshot) RawCondition() any {
	if len(s.Condition) > 0 {
		var v any
		if err := json.Unmarshal(s.Condition, &v); err == nil && v != nil {
			return v
		}
	}
	if s.StepConfig != nil {
		if v, ok := s.StepConfig["condition"]; ok {
			return v
		}
	}
	return nil
}

// FanOutEnabled reports whether the step fans out, from the top-level flag
// or step_config.fan_out.
func (s *StepSnapshot) FanOutEnabled() bool {
	if s.FanOut {
		return true
	}
	if s.StepConfig != nil {
		if v, ok := s.StepConfig["fan_out"].(bool); ok {
			return v
		}
	}
	return false
}

// Entity describes the subject of a run.
type Entity struct {
	EntityType EntityType     `json:"entity_type,omitempty"`
	Input      map[string]any `json:"input,omitempty"`

	// Index is assigned by fan-out upstream; opaque to the engine.
	Index int `json:"index,omitempty"`
}

// Type returns the entity type, defaulting to company.
func (e *Entity) Type() EntityType {
	if e == nil || e.EntityType == "" {
		return EntityCompany
	}
	return e.EntityType
}

// StepResult is the mutable per-step record owned by the step-result store.
type StepResult struct {
	ID            string         `json:"id"`
	StepPosition  int            `json:"step_position"`
	Status        StepStatus     `json:"status"`
	InputPayload  map[string]any `json:"input_payload,omitempty"`
	OutputPayload map[string]any `json:"output_payload,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ErrorDetails  map[string]any `json:"error_details,omitempty"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
}

// Envelope statuses the engine branches on. Any status other than failed is
// treated as success; found is what the executors produce on the happy path.
const (
	EnvelopeStatusFound     = "found"
	EnvelopeStatusSucceeded = "succeeded"
	EnvelopeStatusFailed    = "failed"
)

// OperationEnvelope is the normalised response shape from every executor.
type OperationEnvelope struct {
	RunID            string            `json:"run_id,omitempty"`
	OperationID      string            `json:"operation_id,omitempty"`
	Status           string            `json:"status"`
	Output           map[string]any    `json:"output,omitempty"`
	ProviderAttempts []ProviderAttempt `json:"provider_attempts,omitempty"`
	MissingInputs    []string          `json:"missing_inputs,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// Failed reports whether the envelope carries a step failure.
// Every other status is treated as success.
func (e *OperationEnvelope) Failed() bool {
	return e.Status == EnvelopeStatusFailed
}

// Provider returns the label of the first attempt with status found or
// succeeded, or empty when there is none.
func (e *OperationEnvelope) Provider() string {
	for _, a := range e.ProviderAttempts {
		if a.Status == EnvelopeStatusFound || a.Status == EnvelopeStatusSucceeded {
			return a.Provider
		}
	}
	return ""
}

// ProviderAttempt records one provider interaction; opaque to the engine
// beyond the provider label selection on fan-out.
type ProviderAttempt struct {
	Provider        string `json:"provider,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	SkipReason      string `json:"skip_reason,omitempty"`
	PollCount       int    `json:"poll_count,omitempty"`
	MaxPollAttempts int    `json:"max_poll_attempts,omitempty"`
	RawResponse     any    `json:"raw_response,omitempty"`
}

// TimelineEvent is the write-only denormalised observability record emitted
// alongside each step-result transition.
type TimelineEvent struct {
	OrgID            string            `json:"org_id"`
	CompanyID        string            `json:"company_id"`
	SubmissionID     string            `json:"submission_id"`
	PipelineRunID    string            `json:"pipeline_run_id"`
	EntityType       EntityType        `json:"entity_type"`
	StepPosition     int               `json:"step_position"`
	OperationID      string            `json:"operation_id"`
	Status           StepStatus        `json:"status"`
	SkipReason       string            `json:"skip_reason,omitempty"`
	DurationMS       *int64            `json:"duration_ms,omitempty"`
	ProviderAttempts []ProviderAttempt `json:"provider_attempts,omitempty"`
	OperationResult  map[string]any    `json:"operation_result,omitempty"`
	FieldsUpdated    []string          `json:"fields_updated,omitempty"`
}

// FreshnessRecord is the freshness store's answer for an entity.
type FreshnessRecord struct {
	Fresh            bool           `json:"fresh"`
	EntityID         string         `json:"entity_id,omitempty"`
	LastEnrichedAt   string         `json:"last_enriched_at,omitempty"`
	AgeHours         float64        `json:"age_hours,omitempty"`
	CanonicalPayload map[string]any `json:"canonical_payload,omitempty"`
}

// FreshnessSpec is the parsed step_config.skip_if_fresh block.
type FreshnessSpec struct {
	MaxAgeHours    float64
	IdentityFields []string
}

// FreshnessSpecFromConfig extracts a valid skip_if_fresh spec from a step
// config. Returns nil when absent or malformed: a positive finite
// max_age_hours and a non-empty list of string identity_fields are required.
func FreshnessSpecFromConfig(stepConfig map[string]any) *FreshnessSpec {
	if stepConfig == nil {
		return nil
	}
	raw, ok := stepConfig["skip_if_fresh"].(map[string]any)
	if !ok {
		return nil
	}

	maxAge, ok := toFiniteNumber(raw["max_age_hours"])
	if !ok || maxAge <= 0 {
		return nil
	}

	rawFields, ok := raw["identity_fields"].([]any)
	if !ok || len(rawFields) == 0 {
		return nil
	}

	fields := make([]string, 0, len(rawFields))
	for _, f := range rawFields {
		s, ok := f.(string)
		if !ok {
			return nil
		}
		fields = append(fields, s)
	}

	return &FreshnessSpec{MaxAgeHours: maxAge, IdentityFields: fields}
}

// FanOutRequest is the payload for the parent-run fan-out endpoint.
type FanOutRequest struct {
	ParentPipelineRunID     string            `json:"parent_pipeline_run_id"`
	SubmissionID            string            `json:"submission_id"`
	OrgID                   string            `json:"org_id"`
	CompanyID               string            `json:"company_id"`
	BlueprintSnapshot       BlueprintSnapshot `json:"blueprint_snapshot"`
	FanOutEntities          []map[string]any  `json:"fan_out_entities"`
	StartFromPosition       int               `json:"start_from_position"`
	ParentCumulativeContext Context           `json:"parent_cumulative_context"`
	FanOutOperationID       string            `json:"fan_out_operation_id"`
	Provider                string            `json:"provider,omitempty"`
	ProviderAttempts        []ProviderAttempt `json:"provider_attempts,omitempty"`
}

// FanOutResponse is the fan-out endpoint's answer.
type FanOutResponse struct {
	ChildRunIDs                 []string         `json:"child_run_ids"`
	SkippedDuplicatesCount      int              `json:"skipped_duplicates_count,omitempty"`
	SkippedDuplicateIdentifiers []string         `json:"skipped_duplicate_identifiers,omitempty"`
	ChildRuns                   []map[string]any `json:"child_runs,omitempty"`
}

// Summary is what the engine always returns to its caller.
type Summary struct {
	PipelineRunID      string    `json:"pipeline_run_id"`
	Status             RunStatus `json:"status"`
	FailedStepPosition int       `json:"failed_step_position,omitempty"`
	Error              string    `json:"error,omitempty"`
	FanOutChildRunIDs  []string  `json:"fan_out_child_run_ids,omitempty"`
	FanOutChildCount   int       `json:"fan_out_child_count,omitempty"`
}
