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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/enrich/internal/metrics"
	"github.com/tombee/enrich/internal/operation"
	"github.com/tombee/enrich/pkg/pipeline"
)

// ProviderName labels every provider attempt emitted by the pollers.
const ProviderName = "parallel"

// SkipReasonMissingAPIKey is recorded when the provider key is unset.
const SkipReasonMissingAPIKey = "missing_parallel_api_key"

// DefaultPollInterval is the wait between status checks.
const DefaultPollInterval = 20 * time.Second

// Poller runs one deep-research variant: create a provider task, poll it to
// a terminal state, fetch the result. The request-poll-result sequence is
// strictly sequential; total poll wall-clock is bounded by
// maxAttempts * pollInterval.
type Poller struct {
	variant      Variant
	client       *parallelClient
	logger       *slog.Logger
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithBaseURL overrides the provider endpoint. Used by tests.
func WithBaseURL(baseURL string) PollerOption {
	return func(p *Poller) { p.client.baseURL = baseURL }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) PollerOption {
	return func(p *Poller) { p.client.httpClient = client }
}

// WithPollInterval overrides the wait between status checks.
func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *Poller) { p.pollInterval = interval }
}

// WithMaxAttempts overrides the variant's poll budget.
func WithMaxAttempts(attempts int) PollerOption {
	return func(p *Poller) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

// WithLogger sets the poller's logger.
func WithLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller creates the executor for one variant. An empty apiKey is not an
// error here: execution then returns a failed envelope with a skipped
// provider attempt.
func NewPoller(variant Variant, apiKey string, opts ...PollerOption) (*Poller, error) {
	client, err := newParallelClient(DefaultBaseURL, apiKey, nil)
	if err != nil {
		return nil, err
	}

	p := &Poller{
		variant:      variant,
		client:       client,
		logger:       slog.Default(),
		apiKey:       apiKey,
		pollInterval: DefaultPollInterval,
		maxAttempts:  variant.MaxPollAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// resolveFields materialises the variant's field table against the context.
// Missing required fields come back by canonical key.
func (p *Poller) resolveFields(input pipeline.Context) (map[string]string, []string) {
	values := make(map[string]string, len(p.variant.Fields))
	var missing []string

	for _, field := range p.variant.Fields {
		value, found := input.StringField(field.Key)
		if !found {
			for _, alias := range field.Aliases {
				if value, found = input.StringField(alias); found {
					break
				}
			}
		}

		switch {
		case found:
			values[field.Key] = value
		case field.Optional:
			values[field.Key] = field.Default
		default:
			missing = append(missing, field.Key)
		}
	}

	return values, missing
}

// buildPrompt substitutes resolved field values into the variant template.
func (p *Poller) buildPrompt(values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(p.variant.PromptTemplate)
}

// failed builds a failed envelope with the given terminal attempt.
func (p *Poller) failed(errMsg string, attempts ...pipeline.ProviderAttempt) *pipeline.OperationEnvelope {
	return &pipeline.OperationEnvelope{
		OperationID:      p.variant.OperationID,
		Status:           pipeline.EnvelopeStatusFailed,
		Error:            errMsg,
		ProviderAttempts: attempts,
	}
}

// Execute implements operation.Executor.
func (p *Poller) Execute(ctx context.Context, req *operation.Request) (*pipeline.OperationEnvelope, error) {
	logger := p.logger.With(slog.String("operation_id", p.variant.OperationID))

	values, missing := p.resolveFields(req.Input)
	if len(missing) > 0 {
		logger.Warn("deep-research inputs missing", slog.Any("missing_inputs", missing))
		env := p.failed("")
		env.MissingInputs = missing
		return env, nil
	}

	if p.apiKey == "" {
		logger.Warn("provider api key not configured, skipping")
		return p.failed("", pipeline.ProviderAttempt{
			Provider:   ProviderName,
			Status:     "skipped",
			SkipReason: SkipReasonMissingAPIKey,
		}), nil
	}

	prompt := p.buildPrompt(values)

	status, body, run, err := p.client.createTask(ctx, prompt, p.variant.Processor)
	if err != nil {
		return nil, fmt.Errorf("failed to create research task: %w", err)
	}
	if status < 200 || status > 299 {
		logger.Warn("task creation rejected", slog.Int("status_code", status))
		return p.failed("task_create_failed", pipeline.ProviderAttempt{
			Provider:    ProviderName,
			Status:      pipeline.EnvelopeStatusFailed,
			Error:       "task_create_failed",
			RawResponse: decodeRaw(body),
		}), nil
	}

	taskStatus := run.Status
	pollCount := 0

	for taskStatus != taskStatusCompleted && taskStatus != taskStatusFailed && pollCount < p.maxAttempts {
		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		pollCount++
		metrics.RecordPollAttempt(p.variant.OperationID)

		statusCode, polled, err := p.client.taskStatus(ctx, run.RunID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll research task: %w", err)
		}
		if statusCode < 200 || statusCode > 299 {
			// Transient status failures consume the attempt but leave
			// taskStatus unchanged; the attempt cap bounds the loop.
			logger.Warn("status check failed, continuing",
				slog.Int("status_code", statusCode),
				slog.Int("poll_count", pollCount))
			continue
		}

		taskStatus = polled
		logger.Debug("polled research task",
			slog.String("task_status", taskStatus),
			slog.Int("poll_count", pollCount))
	}

	terminalAttempt := func(errMsg string) pipeline.ProviderAttempt {
		return pipeline.ProviderAttempt{
			Provider:        ProviderName,
			Status:          pipeline.EnvelopeStatusFailed,
			Error:           errMsg,
			PollCount:       pollCount,
			MaxPollAttempts: p.maxAttempts,
		}
	}

	if taskStatus == taskStatusFailed {
		logger.Warn("research task failed", slog.Int("poll_count", pollCount))
		return p.failed("parallel_task_failed", terminalAttempt("parallel_task_failed")), nil
	}
	if taskStatus != taskStatusCompleted {
		logger.Warn("research task timed out", slog.Int("poll_count", pollCount))
		return p.failed("poll_timeout", terminalAttempt("poll_timeout")), nil
	}

	resultCode, resultBody, err := p.client.taskResult(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch research result: %w", err)
	}
	if resultCode < 200 || resultCode > 299 {
		errMsg := fmt.Sprintf("result_fetch_failed: HTTP %d: %s", resultCode, string(resultBody))
		return p.failed(errMsg, terminalAttempt(errMsg)), nil
	}

	output := map[string]any{
		"parallel_raw_response": decodeRaw(resultBody),
	}
	for _, field := range p.variant.Fields {
		for _, echo := range field.Echo {
			output[echo] = values[field.Key]
		}
	}

	return &pipeline.OperationEnvelope{
		OperationID: p.variant.OperationID,
		Status:      pipeline.EnvelopeStatusFound,
		Output:      output,
		ProviderAttempts: []pipeline.ProviderAttempt{{
			Provider:        ProviderName,
			Status:          pipeline.EnvelopeStatusFound,
			PollCount:       pollCount,
			MaxPollAttempts: p.maxAttempts,
		}},
	}, nil
}
