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

import "sync"

// Registry maps operation ids to specialised executors. Operations without a
// registration run through the fallback executor. The engine never branches
// on which executor produced the envelope.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry creates a registry with the given fallback executor.
func NewRegistry(fallback Executor) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register binds an executor to an operation id, replacing any previous
// binding.
func (r *Registry) Register(operationID string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[operationID] = executor
}

// Resolve returns the executor for an operation id, falling back to the
// generic executor when no specialised one is registered.
func (r *Registry) Resolve(operationID string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if executor, ok := r.executors[operationID]; ok {
		return executor
	}
	return r.fallback
}
