// SPDX-License-Identifier: MPL-2.0

// Package manifest defines the build manifest consumed by the archive
// assembly pipeline.
//
// A manifest maps archive destination paths to filesystem source paths, in
// two named collections:
//   - modules: Python source files, importable from inside the archive
//   - resources: data files, readable from inside the archive
//
// Manifests are produced upstream by the build system and delivered on
// standard input, because they can exceed practical argument-length limits.
// The wire format is JSON; YAML is accepted as an alternative for hand-written
// manifests. Iteration order over a collection is irrelevant: destination
// paths are unique keys and entry registration is commutative.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"pexbuild-cli/pkg/fspath"
)

// Format identifies the manifest wire format.
type Format string

const (
	// FormatJSON is the default wire format emitted by manifest producers.
	FormatJSON Format = "json"
	// FormatYAML is accepted for hand-written manifests.
	FormatYAML Format = "yaml"
)

// Category distinguishes module entries from resource entries.
type Category string

const (
	// CategoryModule marks an importable Python source entry.
	CategoryModule Category = "module"
	// CategoryResource marks a bundled data file entry.
	CategoryResource Category = "resource"
)

// Manifest is the immutable destination-to-source mapping for one build.
type Manifest struct {
	// Modules maps archive destination paths to module source paths.
	Modules map[string]string `json:"modules" yaml:"modules"`
	// Resources maps archive destination paths to resource source paths.
	Resources map[string]string `json:"resources" yaml:"resources"`
}

// Entry is a single destination/source pair tagged with its category.
type Entry struct {
	Destination string
	Source      string
	Category    Category
}

// ParseError is returned when stdin does not contain a valid manifest
// document or the document violates structural constraints.
type ParseError struct {
	// Format is the wire format that was being decoded.
	Format Format
	// Cause is the underlying decode or validation error.
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s manifest: %v", e.Format, e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Parse reads and validates a manifest document from r.
func Parse(r io.Reader, format Format) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Format: format, Cause: fmt.Errorf("reading input: %w", err)}
	}

	var m Manifest
	switch format {
	case FormatJSON, "":
		format = FormatJSON
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &ParseError{Format: format, Cause: err}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, &ParseError{Format: format, Cause: err}
		}
	default:
		return nil, &ParseError{Format: format, Cause: fmt.Errorf("unsupported manifest format %q", format)}
	}

	if err := m.Validate(); err != nil {
		return nil, &ParseError{Format: format, Cause: err}
	}
	return &m, nil
}

// Validate checks the structural constraints on destination paths:
// POSIX-relative keys without leading "/" or traversal segments, non-empty
// source paths, and no destination collision between the module and resource
// namespaces. Both files would land on the same archive path, so a collision
// is a build error rather than a silent overwrite.
func (m *Manifest) Validate() error {
	for _, coll := range []struct {
		name    string
		entries map[string]string
	}{
		{name: "modules", entries: m.Modules},
		{name: "resources", entries: m.Resources},
	} {
		for dst, src := range coll.entries {
			if !fspath.IsRelativePosix(dst) {
				return fmt.Errorf("%s[%q]: destination must be a POSIX-relative path inside the archive", coll.name, dst)
			}
			if src == "" {
				return fmt.Errorf("%s[%q]: source path is empty", coll.name, dst)
			}
		}
	}

	for dst := range m.Modules {
		if _, clash := m.Resources[dst]; clash {
			return fmt.Errorf("destination %q appears in both modules and resources", dst)
		}
	}
	return nil
}

// Entries returns all manifest entries, modules first, each collection in
// sorted destination order. Sorting is a convenience for deterministic logs
// and tests; consumers must not rely on registration order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.Modules)+len(m.Resources))
	for _, dst := range sortedKeys(m.Modules) {
		out = append(out, Entry{Destination: dst, Source: m.Modules[dst], Category: CategoryModule})
	}
	for _, dst := range sortedKeys(m.Resources) {
		out = append(out, Entry{Destination: dst, Source: m.Resources[dst], Category: CategoryResource})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
