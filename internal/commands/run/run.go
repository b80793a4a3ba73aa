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

// Package run implements the run command: execute one pipeline run to a
// terminal state and print its summary.
package run

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/enrich/internal/api"
	"github.com/tombee/enrich/internal/config"
	"github.com/tombee/enrich/internal/engine"
	"github.com/tombee/enrich/internal/log"
	"github.com/tombee/enrich/internal/operation"
	"github.com/tombee/enrich/internal/research"
	"github.com/tombee/enrich/internal/tracing"
	"github.com/tombee/enrich/pkg/errors"
	"github.com/tombee/enrich/pkg/pipeline"
)

// runFailureError signals a run that terminated with a failed summary, as
// opposed to an error reaching the engine at all.
type runFailureError struct {
	summary *pipeline.Summary
}

func (e *runFailureError) Error() string {
	return fmt.Sprintf("pipeline run %s failed at step %d: %s",
		e.summary.PipelineRunID, e.summary.FailedStepPosition, e.summary.Error)
}

// IsRunFailure reports whether err is a failed-run summary rather than an
// execution error.
func IsRunFailure(err error) bool {
	var failure *runFailureError
	return errors.As(err, &failure)
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pipeline-run-id>",
		Short: "Execute one pipeline run",
		Long: `Load the pipeline run from the internal data-engine API and execute its
blueprint snapshot step by step, printing the terminal summary as JSON.

Exit codes: 0 on success, 1 on execution errors, 2 when the run itself
terminated with a failed status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0])
		},
	}

	return cmd
}

func runPipeline(cmd *cobra.Command, pipelineRunID string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger := log.New(log.FromEnv())

	var traceWriter *os.File
	if cfg.Settings.TraceExport {
		traceWriter = os.Stderr
	}
	provider, err := tracing.NewProvider("enrich", cmd.Root().Version, traceWriter)
	if err != nil {
		return err
	}

	ctx := tracing.ToContext(cmd.Context(), tracing.NewCorrelationID())
	defer provider.Shutdown(ctx)

	var clientOpts []api.Option
	if cfg.Settings.HTTPTimeoutSeconds > 0 {
		clientOpts = append(clientOpts,
			api.WithTimeout(time.Duration(cfg.Settings.HTTPTimeoutSeconds)*time.Second))
	}
	client, err := api.New(cfg.DataEngineAPIURL, cfg.DataEngineAPIKey, clientOpts...)
	if err != nil {
		return err
	}

	generic, err := operation.NewGenericExecutor(cfg.OperationsAPIURL, cfg.DataEngineAPIKey, logger, nil)
	if err != nil {
		return err
	}

	registry := operation.NewRegistry(generic)
	for _, variant := range research.Variants() {
		pollerOpts := []research.PollerOption{research.WithLogger(logger)}
		if cfg.Settings.PollIntervalSeconds > 0 {
			pollerOpts = append(pollerOpts,
				research.WithPollInterval(time.Duration(cfg.Settings.PollIntervalSeconds)*time.Second))
		}
		if cfg.Settings.MaxPollAttempts > 0 {
			pollerOpts = append(pollerOpts, research.WithMaxAttempts(cfg.Settings.MaxPollAttempts))
		}

		poller, err := research.NewPoller(variant, cfg.ParallelAPIKey, pollerOpts...)
		if err != nil {
			return err
		}
		registry.Register(variant.OperationID, poller)
	}

	eng := engine.New(client, registry,
		engine.WithLogger(logger),
		engine.WithTracer(provider.Tracer("enrich")),
		engine.WithAuxPersister(research.NewPersister(client, logger)),
	)

	logger.Info("starting pipeline run",
		slog.String(log.PipelineRunIDKey, pipelineRunID))

	summary, err := eng.Run(ctx, pipelineRunID)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode summary")
	}
	cmd.Println(string(encoded))

	if summary.Status == pipeline.RunStatusFailed {
		return &runFailureError{summary: summary}
	}
	return nil
}
