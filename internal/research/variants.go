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

// Deep-research operation ids.
const (
	OpICPJobTitles         = "company.derive.icp_job_titles"
	OpCompanyIntelBriefing = "company.derive.intel_briefing"
	OpPersonIntelBriefing  = "person.derive.intel_briefing"
)

// Field is one prompt placeholder with its context-key fallback chain. The
// alias lists encode blueprint-author conventions accumulated over time and
// are data, not logic: resolution tries each key in order.
type Field struct {
	// Key is the canonical placeholder name in the prompt template and the
	// name reported in missing_inputs.
	Key string

	// Aliases are additional context keys accepted for this field, tried
	// after Key itself.
	Aliases []string

	// Default substitutes for an absent optional field. Empty Default on a
	// field listed as optional still resolves (to the empty string).
	Default string

	// Optional fields never produce missing_inputs.
	Optional bool

	// Echo duplicates the resolved value into the envelope output under
	// every listed key.
	Echo []string
}

// Variant is the full specification of one deep-research executor: prompt
// template, field table, processor, and poll budget.
type Variant struct {
	OperationID     string
	Processor       string
	MaxPollAttempts int
	Fields          []Field
	PromptTemplate  string
}

// ICPJobTitles derives the ideal-customer-profile job titles for a company.
func ICPJobTitles() Variant {
	return Variant{
		OperationID:     OpICPJobTitles,
		Processor:       "base",
		MaxPollAttempts: 30,
		Fields: []Field{
			{Key: "company_name", Aliases: []string{"companyName"}, Echo: []string{"company_name"}},
			{Key: "domain", Aliases: []string{"company_domain"}, Echo: []string{"domain"}},
			{Key: "company_description", Aliases: []string{"description"}, Optional: true, Default: "No description provided."},
		},
		PromptTemplate: "Research the company {company_name} ({domain}). " +
			"Company description: {company_description} " +
			"Identify the job titles of the people at other companies who would be the " +
			"ideal buyers and champions for this company's product. Return a ranked list " +
			"of titles with a short rationale for each.",
	}
}

// CompanyIntelBriefing derives a sales-intelligence briefing about a target
// company on behalf of a client company.
func CompanyIntelBriefing() Variant {
	return Variant{
		OperationID:     OpCompanyIntelBriefing,
		Processor:       "pro",
		MaxPollAttempts: 45,
		Fields: []Field{
			{Key: "client_company_name"},
			{Key: "client_company_description"},
			{Key: "target_company_name", Aliases: []string{"company_name"}, Echo: []string{"target_company_name"}},
			// Echoed under both keys: downstream steps read either.
			{Key: "target_company_domain", Aliases: []string{"domain"}, Echo: []string{"target_company_domain", "domain"}},
			{Key: "target_company_industry", Aliases: []string{"industry"}, Optional: true, Default: "Unknown industry"},
			{Key: "target_company_size", Aliases: []string{"company_size", "employee_count"}, Optional: true, Default: "Unknown size"},
			{Key: "target_company_funding", Aliases: []string{"funding_stage"}, Optional: true, Default: "Unknown funding"},
			{Key: "target_company_competitors", Aliases: []string{"competitors"}, Optional: true, Default: "No known competitors."},
		},
		PromptTemplate: "You are preparing a sales-intelligence briefing for {client_company_name}. " +
			"About the client: {client_company_description} " +
			"Research the target company {target_company_name} ({target_company_domain}). " +
			"Industry: {target_company_industry}. Size: {target_company_size}. " +
			"Funding: {target_company_funding}. Competitors: {target_company_competitors}. " +
			"Produce a briefing covering what the target does, recent news, buying signals, " +
			"and how the client's offering is relevant to them.",
	}
}

// PersonIntelBriefing derives a briefing about an individual prospect on
// behalf of a client company.
func PersonIntelBriefing() Variant {
	return Variant{
		OperationID:     OpPersonIntelBriefing,
		Processor:       "pro",
		MaxPollAttempts: 45,
		Fields: []Field{
			{Key: "client_company_name"},
			{Key: "client_company_description"},
			{Key: "person_full_name", Aliases: []string{"full_name"}, Echo: []string{"person_full_name"}},
			{Key: "person_current_company_name", Aliases: []string{"current_company_name"}, Echo: []string{"person_current_company_name"}},
			{Key: "person_linkedin_url", Aliases: []string{"linkedin_url"}, Optional: true, Default: "No LinkedIn URL provided."},
			{Key: "person_current_job_title", Aliases: []string{"title", "current_title"}, Optional: true, Default: "Unknown title"},
			{Key: "person_current_company_description", Aliases: []string{"current_company_description"}, Optional: true, Default: "No description provided."},
			{Key: "customer_company_name", Optional: true, Default: ""},
		},
		PromptTemplate: "You are preparing a prospect briefing for {client_company_name}. " +
			"About the client: {client_company_description} " +
			"Research {person_full_name}, {person_current_job_title} at " +
			"{person_current_company_name}. LinkedIn: {person_linkedin_url}. " +
			"About their company: {person_current_company_description} " +
			"Summarise their background, current responsibilities, recent public activity, " +
			"and angles for an outreach from the client. {customer_company_name}",
	}
}

// Variants returns every deep-research variant, in registration order.
func Variants() []Variant {
	return []Variant{ICPJobTitles(), CompanyIntelBriefing(), PersonIntelBriefing()}
}
