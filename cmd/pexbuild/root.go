// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"pexbuild-cli/internal/config"
	"pexbuild-cli/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string
	// entryPoint is the module executed when the archive runs
	entryPoint string
	// pythonPath is the interpreter binary to target
	pythonPath string
	// manifestFormat is the manifest wire format on stdin
	manifestFormat string

	// cfg is the loaded configuration, available to RunE handlers.
	cfg *config.Config

	// rootCmd is the one and only pexbuild command.
	rootCmd = &cobra.Command{
		Use:   "pexbuild [flags] <output>",
		Short: "Package Python modules and resources into one executable archive",
		Long: TitleStyle.Render("pexbuild") + SubtitleStyle.Render(" - self-contained Python archive builder") + `

pexbuild reads a build manifest from standard input and seals the listed
modules and resources into a single self-executing archive at <output>.
The manifest is passed on stdin because it can exceed practical
argument-length limits.

Manifest shape (JSON by default):
  {
    "modules":   {"app/main.py": "/src/main.py"},
    "resources": {"app/data.txt": "/src/data.txt"}
  }

` + SubtitleStyle.Render("Examples:") + `
  pexbuild app.pex < manifest.json
  pexbuild --entry-point app.main app.pex < manifest.json
  pexbuild --python /usr/bin/python3.12 app.pex < manifest.json
  pexbuild --manifest-format yaml app.pex < manifest.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runBuild,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	rootCmd.Flags().StringVar(&entryPoint, "entry-point", "", "entry point module (default from config, usually __main__)")
	rootCmd.Flags().StringVar(&pythonPath, "python", "", "target interpreter binary (default from config, usually python3)")
	rootCmd.Flags().StringVar(&manifestFormat, "manifest-format", "", "manifest wire format: json or yaml (default json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pexbuild/config.cue)")
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. Called by main.main().
func Execute() {
	// fang overrides rootCmd.Version, so pass the version through its option.
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig reads the config file before the command runs.
func initRootConfig() {
	if cfgFile != "" {
		config.SetConfigFilePathOverride(cfgFile)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, verbose))
		cfg = config.DefaultConfig()
	}

	if cfg != nil && !verbose {
		verbose = cfg.UI.Verbose
	}
}

// formatErrorForDisplay formats an error for user display. ActionableErrors
// use their Format method; verbose mode shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
