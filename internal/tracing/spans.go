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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunSpan wraps an OpenTelemetry span with pipeline-run helpers.
type RunSpan struct {
	span trace.Span
}

// StartRun creates the root span for a pipeline run.
func StartRun(ctx context.Context, tracer trace.Tracer, pipelineRunID string) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.run_id", pipelineRunID),
			attribute.String("span.type", "pipeline.run"),
		),
	)

	return ctx, &RunSpan{span: span}
}

// StartStep creates a span for one step execution.
func StartStep(ctx context.Context, tracer trace.Tracer, position int, operationID string) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("step: %s", operationID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("step.position", position),
			attribute.String("step.operation_id", operationID),
			attribute.String("span.type", "pipeline.step"),
		),
	)

	return ctx, &RunSpan{span: span}
}

// SetStatusAttr records the terminal status of the run or step on the span.
func (s *RunSpan) SetStatusAttr(status string) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attribute.String("status", status))
}

// AddEvent records a timestamped event within the span.
func (s *RunSpan) AddEvent(name string, attrs map[string]any) {
	if s == nil || s.span == nil {
		return
	}

	var otelAttrs []attribute.KeyValue
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			otelAttrs = append(otelAttrs, attribute.String(k, val))
		case int:
			otelAttrs = append(otelAttrs, attribute.Int(k, val))
		case int64:
			otelAttrs = append(otelAttrs, attribute.Int64(k, val))
		case float64:
			otelAttrs = append(otelAttrs, attribute.Float64(k, val))
		case bool:
			otelAttrs = append(otelAttrs, attribute.Bool(k, val))
		default:
			otelAttrs = append(otelAttrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	s.span.AddEvent(name, trace.WithAttributes(otelAttrs...))
}

// RecordError records an error that occurred during execution.
func (s *RunSpan) RecordError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}

	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End marks the span as complete.
func (s *RunSpan) End() {
	if s == nil || s.span == nil {
		return
	}

	s.span.End()
}
