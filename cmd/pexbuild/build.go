// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"pexbuild-cli/internal/build"
	"pexbuild-cli/internal/config"
	"pexbuild-cli/internal/issue"
	"pexbuild-cli/pkg/manifest"
)

// manifestInput is where the manifest document is read from. Tests swap it
// out; production always reads standard input.
var manifestInput io.Reader = os.Stdin

func runBuild(cmd *cobra.Command, args []string) error {
	output := args[0]

	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	format := manifest.Format(resolveOption(manifestFormat, cfg.ManifestFormat, config.DefaultManifestFormat))
	m, err := manifest.Parse(manifestInput, format)
	if err != nil {
		return reportFailure(cmd, issue.WrapWithOperation(err, "read manifest"))
	}

	logger := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{Prefix: "pexbuild"})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	orchestrator := build.New(build.Config{
		ThirdPartyRoot: cfg.ThirdPartyRoot,
		Logger:         logger,
	})
	opts := build.Options{
		Output:     output,
		EntryPoint: resolveOption(entryPoint, cfg.EntryPoint, config.DefaultEntryPoint),
		Python:     resolveOption(pythonPath, cfg.Python, config.DefaultPython),
	}

	if err := orchestrator.Run(cmd.Context(), m, opts); err != nil {
		return reportFailure(cmd, issue.WrapWithOperation(err, "build archive"))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Archive built\n", SuccessStyle.Render("✓"))
	fmt.Fprintf(cmd.OutOrStdout(), "  Output: %s\n", PathStyle.Render(output))
	return nil
}

// resolveOption layers a flag value over the config value over the built-in
// default.
func resolveOption(flag, configured, fallback string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// reportFailure prints catalogued guidance in verbose mode and wraps the
// error into a non-zero exit. The error text itself is rendered once by the
// fang layer in Execute. Guidance goes to the command's error stream so
// callers that redirect it capture everything.
func reportFailure(cmd *cobra.Command, err error) error {
	if verbose {
		out := cmd.ErrOrStderr()
		fmt.Fprintf(out, "\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, true))
		if known := issue.Get(classifyBuildError(err)); known != nil {
			if rendered, renderErr := known.Render("auto"); renderErr == nil {
				fmt.Fprintln(out, rendered)
			}
		}
	}
	return &ExitError{Code: 1, Err: err}
}
