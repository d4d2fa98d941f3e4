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

// Package cli assembles the conveyor command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/internal/cli/format"
	"github.com/conveyor-ci/conveyor/internal/commands/run"
	"github.com/conveyor-ci/conveyor/internal/commands/validate"
	"github.com/conveyor-ci/conveyor/internal/commands/version"
	"github.com/conveyor-ci/conveyor/pkg/errors"
)

// NewRootCommand builds the root command with every subcommand attached.
func NewRootCommand(info version.Info) *cobra.Command {
	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor is a declarative CI pipeline engine",
		SilenceErrors: true,
	}
	root.AddCommand(
		run.NewCommand(),
		validate.NewCommand(),
		version.NewCommand(info),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(info version.Info) int {
	root := NewRootCommand(info)
	err := root.Execute()
	if err == nil {
		return run.ExitSuccess
	}

	var exitErr *run.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			format.PrintError(os.Stderr, exitErr.Err)
		}
		return exitErr.Code
	}

	format.PrintError(os.Stderr, err)

	var defErr *errors.DefinitionError
	if errors.As(err, &defErr) {
		return run.ExitDefinition
	}
	return run.ExitInternal
}
