// SPDX-License-Identifier: MPL-2.0

// Package build orchestrates one archive build: manifest in, sealed
// executable archive out.
//
// A build is a single sequential unit of work. The orchestrator acquires a
// private scratch workspace, introspects the target interpreter, registers
// every manifest entry through leaf-symlink resolution, seals the archive,
// and removes the workspace on every exit path. Failures abort the whole
// build; there is no partial-success mode and no per-entry retry.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"pexbuild-cli/internal/archive"
	"pexbuild-cli/internal/interpreter"
	"pexbuild-cli/pkg/fspath"
	"pexbuild-cli/pkg/manifest"
)

// The bundled setuptools override. Host-installed setuptools is often too
// old for the archive format, so when a third-party root is configured the
// builder forces this version into the archive's view.
const (
	setuptoolsName    = "setuptools"
	setuptoolsVersion = "1.0"
)

// setuptoolsSubdir locates the override below the third-party root.
var setuptoolsSubdir = filepath.Join("py", "setuptools")

// Config carries process-wide build settings. Constructed once per
// invocation and passed in explicitly, so tests can override the
// third-party root without global state.
type Config struct {
	// ThirdPartyRoot hosts the bundled setuptools override. Empty disables
	// capability injection.
	ThirdPartyRoot string
	// Logger receives build progress. Nil means a default stderr logger.
	Logger *log.Logger
}

// Options are the per-invocation build parameters.
type Options struct {
	// Output is the artifact path. Required.
	Output string
	// EntryPoint is the module executed when the archive runs.
	EntryPoint string
	// Python is the interpreter binary to introspect and target. Required.
	Python string
}

// Orchestrator drives manifest entries through path resolution into the
// archive builder.
type Orchestrator struct {
	cfg    Config
	logger *log.Logger
}

// New creates an Orchestrator with the given process-wide configuration.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "pexbuild"})
	}
	return &Orchestrator{cfg: cfg, logger: logger}
}

// Run performs one complete build. The scratch workspace is removed before
// Run returns, success or failure, with removal errors discarded so they
// never mask the build outcome.
func (o *Orchestrator) Run(ctx context.Context, m *manifest.Manifest, opts Options) error {
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.Python == "" {
		return fmt.Errorf("interpreter path is required")
	}

	workspace, release, err := o.acquireWorkspace()
	if err != nil {
		return err
	}
	defer release()

	identity, err := interpreter.Introspect(ctx, opts.Python)
	if err != nil {
		return err
	}
	o.logger.Debug("resolved interpreter", "binary", opts.Python, "identity", identity.Tag())

	interp := interpreter.New(opts.Python, identity, o.extras())

	builder, err := archive.New(workspace, interp)
	if err != nil {
		return err
	}
	builder.SetZipSafe(true)
	entryPoint := opts.EntryPoint
	if entryPoint == "" {
		entryPoint = archive.DefaultEntryPoint
	}
	builder.SetEntryPoint(entryPoint)

	for _, entry := range m.Entries() {
		// Cancellation is honored between registrations; the deferred
		// release still cleans the workspace.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("build canceled: %w", err)
		}

		resolved, err := fspath.DereferenceLeaf(entry.Source)
		if err != nil {
			return err
		}
		switch entry.Category {
		case manifest.CategoryModule:
			err = builder.AddModule(entry.Destination, resolved)
		case manifest.CategoryResource:
			err = builder.AddResource(entry.Destination, resolved)
		default:
			err = fmt.Errorf("unknown entry category %q", entry.Category)
		}
		if err != nil {
			return err
		}
		o.logger.Debug("registered entry", "category", entry.Category, "destination", entry.Destination, "source", resolved)
	}

	if err := builder.Build(opts.Output); err != nil {
		return err
	}

	o.logger.Info("archive built",
		"output", opts.Output,
		"entries", len(builder.Destinations()),
		"entry_point", entryPoint,
		"interpreter", identity.Tag())
	return nil
}

// extras returns the capability override table for this build.
func (o *Orchestrator) extras() map[interpreter.Capability]string {
	if o.cfg.ThirdPartyRoot == "" {
		o.logger.Debug("no third-party root configured; skipping setuptools override")
		return nil
	}
	return map[interpreter.Capability]string{
		{Name: setuptoolsName, Version: setuptoolsVersion}: filepath.Join(o.cfg.ThirdPartyRoot, setuptoolsSubdir),
	}
}

// acquireWorkspace creates a uniquely named scratch directory and returns it
// with its release function. Each build owns its workspace exclusively, so
// concurrent builds in one process cannot interfere.
func (o *Orchestrator) acquireWorkspace() (string, func(), error) {
	workspace := filepath.Join(os.TempDir(), "pexbuild-"+uuid.NewString())
	if err := os.Mkdir(workspace, 0o700); err != nil {
		return "", nil, fmt.Errorf("creating scratch workspace: %w", err)
	}

	release := func() {
		if err := os.RemoveAll(workspace); err != nil {
			// Best-effort only: a cleanup failure must never replace the
			// build outcome.
			o.logger.Debug("workspace cleanup failed", "workspace", workspace, "err", err)
		}
	}
	return workspace, release, nil
}
