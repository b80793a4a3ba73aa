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

// Package config loads runner configuration from the environment and an
// optional YAML settings file.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/enrich/pkg/errors"
)

// Environment variable names.
const (
	EnvDataEngineAPIURL = "DATA_ENGINE_API_URL"
	EnvDataEngineAPIKey = "DATA_ENGINE_INTERNAL_API_KEY"
	EnvParallelAPIKey   = "PARALLEL_API_KEY"
	EnvOperationsAPIURL = "OPERATIONS_API_URL"
	EnvSettingsFile     = "ENRICH_SETTINGS_FILE"
)

// Config is the process configuration, rebuilt on each invocation and
// passed explicitly through the engine. No globals.
type Config struct {
	// DataEngineAPIURL is the base URL of the internal data-engine API.
	DataEngineAPIURL string

	// DataEngineAPIKey is the bearer token for the internal API.
	DataEngineAPIKey string

	// OperationsAPIURL is the base URL of the execute-v1 operations
	// service. Defaults to DataEngineAPIURL.
	OperationsAPIURL string

	// ParallelAPIKey is the deep-research provider key. Optional: when
	// absent the deep-research executors return failed envelopes with a
	// skipped provider attempt instead of erroring.
	ParallelAPIKey string

	Settings Settings
}

// Settings are tunables loadable from a YAML file. Zero values mean
// "use the built-in default".
type Settings struct {
	// PollIntervalSeconds overrides the deep-research poll interval.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// MaxPollAttempts overrides every poller variant's attempt cap.
	MaxPollAttempts int `yaml:"max_poll_attempts"`

	// HTTPTimeoutSeconds overrides the per-request HTTP timeout.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`

	// TraceExport enables span export to stderr.
	TraceExport bool `yaml:"trace_export"`
}

// FromEnv builds a Config from the environment. A missing internal API URL
// or key is fatal here, before any run state is transitioned.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DataEngineAPIURL: strings.TrimRight(os.Getenv(EnvDataEngineAPIURL), "/"),
		DataEngineAPIKey: os.Getenv(EnvDataEngineAPIKey),
		ParallelAPIKey:   os.Getenv(EnvParallelAPIKey),
	}

	if cfg.DataEngineAPIURL == "" {
		return nil, &errors.ConfigError{Key: EnvDataEngineAPIURL, Reason: "not set"}
	}
	if cfg.DataEngineAPIKey == "" {
		return nil, &errors.ConfigError{Key: EnvDataEngineAPIKey, Reason: "not set"}
	}

	cfg.OperationsAPIURL = strings.TrimRight(os.Getenv(EnvOperationsAPIURL), "/")
	if cfg.OperationsAPIURL == "" {
		cfg.OperationsAPIURL = cfg.DataEngineAPIURL
	}

	if path := os.Getenv(EnvSettingsFile); path != "" {
		settings, err := LoadSettings(path)
		if err != nil {
			return nil, err
		}
		cfg.Settings = *settings
	}

	return cfg, nil
}

// LoadSettings reads a YAML settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: EnvSettingsFile, Reason: "cannot read settings file", Cause: err}
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, &errors.ConfigError{Key: EnvSettingsFile, Reason: "invalid settings file", Cause: err}
	}

	if settings.PollIntervalSeconds < 0 {
		return nil, &errors.ConfigError{Key: "poll_interval_seconds", Reason: "must be >= 0"}
	}
	if settings.MaxPollAttempts < 0 {
		return nil, &errors.ConfigError{Key: "max_poll_attempts", Reason: "must be >= 0"}
	}

	return &settings, nil
}
