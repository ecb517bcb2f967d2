// SPDX-License-Identifier: MPL-2.0

// Package interpreter describes the Python interpreter a built archive
// targets.
//
// A Descriptor carries the interpreter binary path, its introspected
// identity, and an extra-capability table: package name/version pairs mapped
// to filesystem locations that provide them. Extras let the builder force a
// known-good version of a packaging dependency (host-installed copies are
// often too old for the archive format) into the archive's view without
// touching the host installation. The table is recorded in archive metadata,
// so the override stays declarative and deterministic.
package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// probeScript runs inside the target interpreter and reports its identity
// as a single JSON object on stdout. It must stay compatible with every
// Python version the tool can plausibly be pointed at.
const probeScript = `import json, platform, sys
print(json.dumps({
    "implementation": platform.python_implementation(),
    "version": platform.python_version(),
    "platform": sys.platform,
}))`

// Capability names a package the interpreter should appear to provide.
type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String returns the canonical "name==version" form.
func (c Capability) String() string {
	return c.Name + "==" + c.Version
}

// Identity is the introspected identity of an interpreter binary.
type Identity struct {
	// Implementation is the runtime implementation, e.g. "CPython".
	Implementation string `json:"implementation"`
	// Version is the full interpreter version, e.g. "3.11.4".
	Version string `json:"version"`
	// Platform is the interpreter's platform tag, e.g. "linux".
	Platform string `json:"platform"`
}

// Tag returns the identity as a single hyphenated tag, suitable for
// embedding in archive metadata.
func (id Identity) Tag() string {
	return id.Implementation + "-" + id.Version + "-" + id.Platform
}

// Descriptor is the immutable interpreter description owned by one build.
type Descriptor struct {
	// Binary is the path to the interpreter executable.
	Binary string
	// Identity is the interpreter identity, typically from Introspect.
	Identity Identity
	// Extras maps injected capabilities to the directories providing them.
	Extras map[Capability]string
}

// ResolutionError is returned when the requested interpreter cannot be
// introspected. It is fatal for the whole build.
type ResolutionError struct {
	// Binary is the interpreter path that failed to resolve.
	Binary string
	// Cause is the underlying failure.
	Cause error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving interpreter %q: %v", e.Binary, e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// New builds a Descriptor from an already-known identity. The extras map is
// copied so later caller mutations cannot leak into the build.
func New(binary string, identity Identity, extras map[Capability]string) *Descriptor {
	d := &Descriptor{
		Binary:   binary,
		Identity: identity,
		Extras:   make(map[Capability]string, len(extras)),
	}
	maps.Copy(d.Extras, extras)
	return d
}

// Introspect runs the interpreter at binary to obtain its identity.
// Any failure (binary missing, not executable, probe output unparsable)
// yields a ResolutionError.
func Introspect(ctx context.Context, binary string) (Identity, error) {
	if strings.TrimSpace(binary) == "" {
		return Identity{}, &ResolutionError{Binary: binary, Cause: fmt.Errorf("interpreter path is empty")}
	}

	cmd := exec.CommandContext(ctx, binary, "-c", probeScript)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Identity{}, &ResolutionError{Binary: binary, Cause: fmt.Errorf("%w: %s", err, msg)}
		}
		return Identity{}, &ResolutionError{Binary: binary, Cause: err}
	}

	var id Identity
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &id); err != nil {
		return Identity{}, &ResolutionError{Binary: binary, Cause: fmt.Errorf("decoding probe output: %w", err)}
	}
	if id.Implementation == "" || id.Version == "" {
		return Identity{}, &ResolutionError{Binary: binary, Cause: fmt.Errorf("probe output is missing identity fields")}
	}
	return id, nil
}

// SortedExtras returns the extras table as deterministic capability order,
// for metadata embedding and logging.
func (d *Descriptor) SortedExtras() []Capability {
	caps := maps.Keys(d.Extras)
	slices.SortFunc(caps, func(a, b Capability) int {
		if a.Name != b.Name {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Version, b.Version)
	})
	return caps
}
