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

// Package operation resolves and executes the remote operation behind each
// pipeline step. A registry maps operation ids to specialised executors;
// everything else goes to the generic operations-service executor.
package operation

import (
	"context"

	"github.com/tombee/enrich/pkg/pipeline"
)

// Request carries everything an executor needs to run one step.
type Request struct {
	OperationID string
	EntityType  pipeline.EntityType
	OrgID       string
	CompanyID   string

	// Input is the run's cumulative context at dispatch time.
	Input pipeline.Context

	// Options is the step's raw step_config, passed through opaque.
	Options map[string]any
}

// Executor runs one operation and returns a normalised envelope. An error
// return means the executor itself blew up (transport, decoding); a business
// failure comes back as an envelope with status failed.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*pipeline.OperationEnvelope, error)
}
