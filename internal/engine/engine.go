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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/enrich/internal/api"
	"github.com/tombee/enrich/internal/log"
	"github.com/tombee/enrich/internal/metrics"
	"github.com/tombee/enrich/internal/operation"
	"github.com/tombee/enrich/internal/research"
	"github.com/tombee/enrich/internal/tracing"
	"github.com/tombee/enrich/pkg/errors"
	"github.com/tombee/enrich/pkg/pipeline"
)

// AuxPersister mirrors deep-research outputs into their dedicated stores.
type AuxPersister interface {
	Persist(ctx context.Context, run *pipeline.PipelineRun, operationID string, env *pipeline.OperationEnvelope)
}

// Engine executes one pipeline run as a single cooperative task: steps run
// strictly in position order with no parallelism inside a run.
type Engine struct {
	store     Store
	registry  *operation.Registry
	persister AuxPersister
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the engine's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithAuxPersister sets the deep-research auxiliary persister.
func WithAuxPersister(persister AuxPersister) Option {
	return func(e *Engine) { e.persister = persister }
}

// New creates an engine over the given store and executor registry.
func New(store Store, registry *operation.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("enrich"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState is the mutable state threaded through one Run invocation.
type runState struct {
	run         *pipeline.PipelineRun
	plan        *Plan
	resultByPos map[int]*pipeline.StepResult
	context     pipeline.Context
	reporter    *reporter
	gate        *freshnessGate
	logger      *slog.Logger

	lastSuccessfulOperationID string
}

// Run drives the pipeline run to a terminal state and returns a summary.
// It returns an error only when the run could not be loaded; every failure
// after that is absorbed into a failed summary. A context cancellation also
// propagates as an error, leaving the run record running for an external
// sweeper.
func (e *Engine) Run(ctx context.Context, pipelineRunID string) (*pipeline.Summary, error) {
	run, err := e.store.GetPipelineRun(ctx, pipelineRunID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load pipeline run %s", pipelineRunID)
	}

	ctx, span := tracing.StartRun(ctx, e.tracer, run.ID)
	defer span.End()

	logger := log.WithRunContext(e.logger, run.ID, run.SubmissionID)
	metrics.RecordRunStarted()

	state := &runState{
		run:         run,
		plan:        BuildPlan(run),
		resultByPos: indexStepResults(run.StepResults),
		context:     pipeline.NewContext(run.BlueprintSnapshot.Entity, run.SubmissionInput),
		reporter:    &reporter{store: e.store, run: run, logger: logger},
		gate:        &freshnessGate{store: e.store, logger: logger},
		logger:      logger,
	}

	logger.Info("pipeline run starting",
		slog.Int("planned_steps", len(state.plan.Steps)),
		slog.Int("start_position", state.plan.StartPosition))

	if err := e.store.UpdateRunStatus(ctx, run.ID, pipeline.RunStatusRunning, "", nil); err != nil {
		logger.Error("failed to mark run running", slog.Any("error", err))
		span.RecordError(err)
		return e.failRun(ctx, state, 0, fmt.Sprintf("failed to mark run running: %v", err)), nil
	}
	e.syncSubmission(ctx, state)

	summary, err := e.executeSteps(ctx, state, span)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		span.SetStatusAttr(string(summary.Status))
		metrics.RecordRunCompleted(string(summary.Status))
		return summary, nil
	}

	// Natural completion: every planned step reached a terminal state
	// without failing and without fanning out.
	summary = e.completeRun(ctx, state)
	span.SetStatusAttr(string(summary.Status))
	metrics.RecordRunCompleted(string(summary.Status))
	return summary, nil
}

// executeSteps runs the main loop. A non-nil summary means the loop
// terminated the run itself (failure or fan-out); nil means natural
// completion. An error return is a cancellation propagating out.
func (e *Engine) executeSteps(ctx context.Context, state *runState, runSpan *tracing.RunSpan) (*pipeline.Summary, error) {
	for _, planned := range state.plan.Steps {
		step := planned.Snapshot
		stepLogger := log.WithStepContext(state.logger, step.Position, step.OperationID)

		row, ok := state.resultByPos[step.Position]
		if !ok {
			invErr := &errors.InvariantError{
				PipelineRunID: state.run.ID,
				StepPosition:  step.Position,
				Message:       "no step result provisioned",
			}
			stepLogger.Error("missing step result")
			runSpan.AddEvent("invariant_violation", map[string]any{"step_position": step.Position})
			return e.failRun(ctx, state, step.Position, invErr.Error()), nil
		}

		if step.OperationID == "" {
			invErr := &errors.InvariantError{
				PipelineRunID: state.run.ID,
				StepPosition:  step.Position,
				Message:       "step has no operation id",
			}
			stepLogger.Error("missing operation id")
			e.failStep(ctx, state, row, step, invErr.Error(), nil, nil)
			e.skipRemaining(ctx, state, step.Position+1)
			return e.failRun(ctx, state, step.Position, invErr.Error()), nil
		}

		stepCtx, stepSpan := tracing.StartStep(ctx, e.tracer, step.Position, step.OperationID)
		summary, done, err := e.executeStep(stepCtx, state, planned, row, stepLogger, stepSpan)
		stepSpan.End()
		if err != nil {
			return nil, err
		}
		if done {
			return summary, nil
		}
	}

	return nil, nil
}

// executeStep runs one step through its gates, executor, and reporting.
// done=true means the run reached a terminal state inside this step (fan-out,
// gated fan-out, or failure) and summary is the answer; done=false means keep
// looping.
func (e *Engine) executeStep(ctx context.Context, state *runState, planned PlannedStep, row *pipeline.StepResult, stepLogger *slog.Logger, stepSpan *tracing.RunSpan) (*pipeline.Summary, bool, error) {
	step := planned.Snapshot
	start := time.Now()

	// Condition gate.
	if !planned.Condition.Evaluate(state.context) {
		stepLogger.Info("step condition not met, skipping")
		stepSpan.SetStatusAttr(string(pipeline.StepStatusSkipped))
		if err := e.skipStep(ctx, state, row, step, pipeline.SkipReasonConditionNotMet); err != nil {
			return e.stepException(ctx, state, row, step, err)
		}

		if step.FanOutEnabled() {
			// A gated fan-out orphans everything downstream.
			for _, downstream := range state.plan.StepsAfter(step.Position) {
				downstreamRow, ok := state.resultByPos[downstream.Snapshot.Position]
				if !ok {
					continue
				}
				if err := e.skipStep(ctx, state, downstreamRow, downstream.Snapshot, pipeline.SkipReasonParentCondition); err != nil {
					return e.stepException(ctx, state, downstreamRow, downstream.Snapshot, err)
				}
			}
			summary := e.completeRun(ctx, state)
			return summary, true, nil
		}
		return nil, false, nil
	}

	// Freshness gate.
	if record := state.gate.check(ctx, step, state.context); record != nil {
		stepLogger.Info("entity state fresh, skipping",
			slog.Float64("age_hours", record.AgeHours))
		stepSpan.SetStatusAttr(string(pipeline.StepStatusSkipped))
		state.context.Merge(record.CanonicalPayload)
		if err := e.skipStep(ctx, state, row, step, pipeline.SkipReasonEntityStateFresh); err != nil {
			return e.stepException(ctx, state, row, step, err)
		}
		return nil, false, nil
	}

	// Mark running with the dispatch-time context.
	marked, err := e.store.UpdateStepResult(ctx, &api.StepResultUpdate{
		StepResultID: row.ID,
		Status:       pipeline.StepStatusRunning,
		InputPayload: state.context.Clone(),
	})
	if err != nil {
		return e.stepException(ctx, state, row, step, err)
	}
	state.reporter.emit(ctx, stepEvent{
		Position:    step.Position,
		OperationID: step.OperationID,
		Status:      pipeline.StepStatusRunning,
		DurationMS:  marked.DurationMS,
	})

	executor := e.registry.Resolve(step.OperationID)
	env, err := executor.Execute(ctx, &operation.Request{
		OperationID: step.OperationID,
		EntityType:  pipeline.EntityTypeForOperation(step.OperationID),
		OrgID:       state.run.OrgID,
		CompanyID:   state.run.CompanyID,
		Input:       state.context.Clone(),
		Options:     step.StepConfig,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-step: leave the run record running for the
			// sweeper and propagate.
			return nil, false, ctx.Err()
		}
		stepSpan.RecordError(err)
		return e.stepException(ctx, state, row, step, err)
	}

	if e.persister != nil && research.IsDeepResearchOperation(step.OperationID) {
		e.persister.Persist(ctx, state.run, step.OperationID, env)
	}

	state.context.Merge(env.Output)

	if env.Failed() {
		stepLogger.Warn("operation returned failure",
			slog.String("error", env.Error),
			slog.Any("missing_inputs", env.MissingInputs))
		stepSpan.SetStatusAttr(string(pipeline.StepStatusFailed))
		metrics.RecordStep(step.OperationID, string(pipeline.StepStatusFailed), time.Since(start))

		summary := e.failStepAndRun(ctx, state, row, step, env)
		return summary, true, nil
	}

	// Success: persist the result with the post-merge context.
	updated, err := e.store.UpdateStepResult(ctx, &api.StepResultUpdate{
		StepResultID: row.ID,
		Status:       pipeline.StepStatusSucceeded,
		OutputPayload: map[string]any{
			"operation_result":   envelopeMap(env),
			"cumulative_context": state.context.Clone(),
		},
	})
	if err != nil {
		return e.stepException(ctx, state, row, step, err)
	}

	stepSpan.SetStatusAttr(string(pipeline.StepStatusSucceeded))
	metrics.RecordStep(step.OperationID, string(pipeline.StepStatusSucceeded), time.Since(start))
	state.reporter.emit(ctx, stepEvent{
		Position:         step.Position,
		OperationID:      step.OperationID,
		Status:           pipeline.StepStatusSucceeded,
		DurationMS:       updated.DurationMS,
		ProviderAttempts: env.ProviderAttempts,
		OperationResult:  env.Output,
		FieldsUpdated:    pipeline.FieldsUpdated(env.Output),
	})
	state.lastSuccessfulOperationID = step.OperationID
	stepLogger.Info("step succeeded",
		slog.Duration(log.DurationKey, time.Since(start)))

	if step.FanOutEnabled() {
		summary, err := e.finishFanOut(ctx, state, row, step, env)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			failSummary, _, _ := e.stepException(ctx, state, row, step, err)
			return failSummary, true, nil
		}
		return summary, true, nil
	}

	return nil, false, nil
}

// finishFanOut runs the fan-out coordinator and terminates the parent run
// successfully with the child-run ids.
func (e *Engine) finishFanOut(ctx context.Context, state *runState, row *pipeline.StepResult, step *pipeline.StepSnapshot, env *pipeline.OperationEnvelope) (*pipeline.Summary, error) {
	resp, summaryPayload, err := e.fanOut(ctx, state.run, step, env, state.context)
	if err != nil {
		return nil, err
	}

	state.logger.Info("fan-out created child runs",
		slog.Int("child_count", len(resp.ChildRunIDs)),
		slog.Int("skipped_duplicates", resp.SkippedDuplicatesCount))

	// Rewrite the parent step's output with the fan-out summary.
	if _, err := e.store.UpdateStepResult(ctx, &api.StepResultUpdate{
		StepResultID:  row.ID,
		Status:        pipeline.StepStatusSucceeded,
		OutputPayload: summaryPayload,
	}); err != nil {
		return nil, err
	}

	summary := e.completeRun(ctx, state)
	if summary.Status == pipeline.RunStatusSucceeded {
		summary.FanOutChildRunIDs = resp.ChildRunIDs
		summary.FanOutChildCount = len(resp.ChildRunIDs)
	}
	return summary, nil
}

// completeRun performs the terminal-success sequence: run succeeded, entity
// state upserted, submission synchronised. An entity-state failure demotes
// the run to failed.
func (e *Engine) completeRun(ctx context.Context, state *runState) *pipeline.Summary {
	if err := e.store.UpdateRunStatus(ctx, state.run.ID, pipeline.RunStatusSucceeded, "", nil); err != nil {
		state.logger.Error("failed to mark run succeeded", slog.Any("error", err))
		return e.failRun(ctx, state, 0, fmt.Sprintf("failed to mark run succeeded: %v", err))
	}

	if err := e.store.UpsertEntityState(ctx, state.run.ID, state.entityType(), state.context, state.lastSuccessfulOperationID); err != nil {
		state.logger.Error("entity state upsert failed", slog.Any("error", err))
		return e.failRun(ctx, state, 0, "Entity state upsert failed")
	}

	e.syncSubmission(ctx, state)
	state.logger.Info("pipeline run succeeded")

	return &pipeline.Summary{
		PipelineRunID: state.run.ID,
		Status:        pipeline.RunStatusSucceeded,
	}
}

// entityType is the type recorded on the entity-state upsert: derived from
// the last successful operation, falling back to the run-level entity when
// every step was skipped.
func (s *runState) entityType() pipeline.EntityType {
	if s.lastSuccessfulOperationID != "" {
		return pipeline.EntityTypeForOperation(s.lastSuccessfulOperationID)
	}
	return s.run.BlueprintSnapshot.Entity.Type()
}

// skipStep marks a step result skipped and emits its timeline event. The
// step-result write is required for correctness: a failure propagates so the
// caller can terminate the run as failed.
func (e *Engine) skipStep(ctx context.Context, state *runState, row *pipeline.StepResult, step *pipeline.StepSnapshot, reason string) error {
	updated, err := e.store.UpdateStepResult(ctx, &api.StepResultUpdate{
		StepResultID: row.ID,
		Status:       pipeline.StepStatusSkipped,
	})
	if err != nil {
		state.logger.Error("failed to mark step skipped",
			slog.Int("step_position", step.Position),
			slog.Any("error", err))
		return err
	}

	metrics.RecordStep(step.OperationID, string(pipeline.StepStatusSkipped), 0)
	state.reporter.emit(ctx, stepEvent{
		Position:    step.Position,
		OperationID: step.OperationID,
		Status:      pipeline.StepStatusSkipped,
		SkipReason:  reason,
		DurationMS:  updated.DurationMS,
	})
	return nil
}

// failStep marks one step result failed and emits its timeline event.
func (e *Engine) failStep(ctx context.Context, state *runState, row *pipeline.StepResult, step *pipeline.StepSnapshot, errMsg string, errDetails map[string]any, operationResult map[string]any) {
	updated, err := e.store.UpdateStepResult(ctx, &api.StepResultUpdate{
		StepResultID: row.ID,
		Status:       pipeline.StepStatusFailed,
		ErrorMessage: errMsg,
		ErrorDetails: errDetails,
	})
	if err != nil {
		state.logger.Error("failed to mark step failed",
			slog.Int("step_position", step.Position),
			slog.Any("error", err))
	}

	var duration *int64
	if updated != nil {
		duration = updated.DurationMS
	}
	state.reporter.emit(ctx, stepEvent{
		Position:        step.Position,
		OperationID:     step.OperationID,
		Status:          pipeline.StepStatusFailed,
		DurationMS:      duration,
		OperationResult: operationResult,
	})
}

// failStepAndRun handles the envelope-failure branch: the executor answered
// with status failed.
func (e *Engine) failStepAndRun(ctx context.Context, state *runState, row *pipeline.StepResult, step *pipeline.StepSnapshot, env *pipeline.OperationEnvelope) *pipeline.Summary {
	errMsg := env.Error
	if errMsg == "" {
		errMsg = fmt.Sprintf("operation %s failed", step.OperationID)
	}

	var details map[string]any
	if len(env.MissingInputs) > 0 {
		details = map[string]any{"missing_inputs": env.MissingInputs}
	}

	result := envelopeMap(env)
	updated, err := e.store.UpdateStepResult(ctx, &api.StepResultUpdate{
		StepResultID:  row.ID,
		Status:        pipeline.StepStatusFailed,
		OutputPayload: map[string]any{"operation_result": result},
		ErrorMessage:  errMsg,
		ErrorDetails:  details,
	})
	if err != nil {
		state.logger.Error("failed to mark step failed",
			slog.Int("step_position", step.Position),
			slog.Any("error", err))
	}

	var duration *int64
	if updated != nil {
		duration = updated.DurationMS
	}
	state.reporter.emit(ctx, stepEvent{
		Position:         step.Position,
		OperationID:      step.OperationID,
		Status:           pipeline.StepStatusFailed,
		DurationMS:       duration,
		ProviderAttempts: env.ProviderAttempts,
		OperationResult:  result,
	})

	e.skipRemaining(ctx, state, step.Position+1)
	return e.failRun(ctx, state, step.Position, errMsg)
}

// stepException handles the catch-all branch: an error raised during the
// execute/persist sequence.
func (e *Engine) stepException(ctx context.Context, state *runState, row *pipeline.StepResult, step *pipeline.StepSnapshot, cause error) (*pipeline.Summary, bool, error) {
	state.logger.Error("step raised",
		slog.Int("step_position", step.Position),
		slog.String("operation_id", step.OperationID),
		slog.Any("error", cause))

	e.failStep(ctx, state, row, step, cause.Error(), nil, nil)
	e.skipRemaining(ctx, state, step.Position+1)
	metrics.RecordStep(step.OperationID, string(pipeline.StepStatusFailed), 0)
	return e.failRun(ctx, state, step.Position, cause.Error()), true, nil
}

// skipRemaining marks every later non-terminal step skipped in one call and
// emits a timeline event per affected row, in ascending position order.
func (e *Engine) skipRemaining(ctx context.Context, state *runState, fromPosition int) {
	rows, err := e.store.MarkRemainingSkipped(ctx, state.run.ID, fromPosition)
	if err != nil {
		state.logger.Error("failed to mark remaining steps skipped",
			slog.Int("from_position", fromPosition),
			slog.Any("error", err))
		return
	}

	for _, skipped := range rows {
		operationID := ""
		if snapshot := state.plan.StepAt(skipped.StepPosition); snapshot != nil {
			operationID = snapshot.OperationID
		}
		state.reporter.emit(ctx, stepEvent{
			Position:    skipped.StepPosition,
			OperationID: operationID,
			Status:      pipeline.StepStatusSkipped,
			SkipReason:  pipeline.SkipReasonEarlierStepFailed,
		})
	}
}

// failRun performs the terminal-failure sequence and builds the summary.
func (e *Engine) failRun(ctx context.Context, state *runState, failedPosition int, errMsg string) *pipeline.Summary {
	if err := e.store.UpdateRunStatus(ctx, state.run.ID, pipeline.RunStatusFailed, errMsg, nil); err != nil {
		state.logger.Error("failed to mark run failed", slog.Any("error", err))
	}
	e.syncSubmission(ctx, state)
	state.logger.Warn("pipeline run failed",
		slog.Int("failed_step_position", failedPosition),
		slog.String("error", errMsg))

	return &pipeline.Summary{
		PipelineRunID:      state.run.ID,
		Status:             pipeline.RunStatusFailed,
		FailedStepPosition: failedPosition,
		Error:              errMsg,
	}
}

// syncSubmission recomputes the submission's derived status. Failures are
// logged: the submission view lags, the run state is already durable.
func (e *Engine) syncSubmission(ctx context.Context, state *runState) {
	if state.run.SubmissionID == "" {
		return
	}
	if err := e.store.SyncSubmissionStatus(ctx, state.run.SubmissionID); err != nil {
		state.logger.Warn("submission status sync failed", slog.Any("error", err))
	}
}

// indexStepResults maps pre-provisioned step results by position.
func indexStepResults(results []pipeline.StepResult) map[int]*pipeline.StepResult {
	byPos := make(map[int]*pipeline.StepResult, len(results))
	for i := range results {
		byPos[results[i].StepPosition] = &results[i]
	}
	return byPos
}

// envelopeMap renders an envelope as the JSON mapping persisted in payloads
// and timeline rows.
func envelopeMap(env *pipeline.OperationEnvelope) map[string]any {
	data, err := json.Marshal(env)
	if err != nil {
		return map[string]any{"status": env.Status}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"status": env.Status}
	}
	return m
}
