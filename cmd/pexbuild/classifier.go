// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"os"

	"pexbuild-cli/internal/archive"
	"pexbuild-cli/internal/interpreter"
	"pexbuild-cli/internal/issue"
	"pexbuild-cli/pkg/fspath"
	"pexbuild-cli/pkg/manifest"
)

// classifyBuildError maps build pipeline failures to issue catalog IDs so the
// CLI can render guidance for the failure class alongside the raw error.
func classifyBuildError(err error) issue.Id {
	var (
		parseErr      *manifest.ParseError
		resolutionErr *interpreter.ResolutionError
		buildErr      *archive.BuildError
	)

	switch {
	case errors.As(err, &parseErr):
		return issue.ManifestParseId
	case errors.As(err, &resolutionErr):
		return issue.InterpreterResolutionId
	case errors.Is(err, fspath.ErrSymlinkCycle):
		return issue.SymlinkCycleId
	case errors.Is(err, os.ErrNotExist):
		return issue.SourceMissingId
	case errors.As(err, &buildErr):
		return issue.BuildFailedId
	}
	return issue.BuildFailedId
}
