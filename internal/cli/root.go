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

// Package cli assembles the enrich command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/enrich/internal/commands/run"
	"github.com/tombee/enrich/internal/commands/version"
)

// VersionInfo is the build metadata injected by the linker.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCommand builds the enrich command tree.
func NewRootCommand(info VersionInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "enrich",
		Short: "Data-enrichment pipeline runner",
		Long: `enrich executes one pipeline run against the internal data-engine API:
it walks the run's blueprint snapshot step by step, gates each step on its
condition and entity freshness, dispatches operations, and reports every
transition back to the step-result and timeline stores.`,
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(run.NewRunCommand())
	rootCmd.AddCommand(version.NewVersionCommand(info.Version, info.Commit, info.BuildDate))

	return rootCmd
}

// Execute runs the command tree with signal-aware cancellation and returns
// the process exit code.
func Execute(info VersionInfo) int {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand(info)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if run.IsRunFailure(err) {
			return 2
		}
		return 1
	}
	return 0
}
