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

package pipeline

import "strings"

// EntityType is the kind of entity a step or run operates on.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityCompany EntityType = "company"
	EntityJob     EntityType = "job"
)

// EntityTypeForOperation derives the entity type from an operation id's
// prefix: person.* -> person, job.* -> job, anything else -> company.
func EntityTypeForOperation(operationID string) EntityType {
	switch {
	case strings.HasPrefix(operationID, "person."):
		return EntityPerson
	case strings.HasPrefix(operationID, "job."):
		return EntityJob
	default:
		return EntityCompany
	}
}
