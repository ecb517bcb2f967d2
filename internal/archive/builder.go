// SPDX-License-Identifier: MPL-2.0

// Package archive assembles self-executing Python archives.
//
// A Builder owns a staging area inside a caller-provided scratch workspace.
// Module and resource files are registered under archive destination paths,
// then Build seals everything into a single artifact: a shebang line
// referencing the target interpreter, followed by a zip containing the
// PEX-INFO metadata document, a generated __main__.py bootstrap, and every
// registered entry. The artifact is written to a temporary file next to the
// requested output and renamed into place, so a failed build never leaves a
// partial file behind.
//
// Builds are deterministic: entries are written in sorted order with fixed
// timestamps, and metadata depends only on the build configuration, never on
// the workspace path.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"pexbuild-cli/internal/interpreter"
	"pexbuild-cli/pkg/fspath"
	"pexbuild-cli/pkg/manifest"
)

const (
	// DefaultEntryPoint is used when no entry point is configured.
	DefaultEntryPoint = "__main__"

	// stageDirName is the staging subdirectory inside the workspace.
	stageDirName = "stage"
)

// zipEpoch is the fixed modification time for every archive member. The zip
// format cannot represent times before 1980.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	// ErrDestinationEscape is the sentinel wrapped when a destination path
	// would land outside the staging root.
	ErrDestinationEscape = errors.New("destination escapes the archive root")
	// ErrDuplicateDestination is the sentinel wrapped when two entries claim
	// the same destination path.
	ErrDuplicateDestination = errors.New("duplicate destination path")
	// ErrReservedDestination is the sentinel wrapped when an entry claims a
	// path the builder itself writes (PEX-INFO).
	ErrReservedDestination = errors.New("reserved destination path")
	// ErrSealed is returned when a builder is reused after Build.
	ErrSealed = errors.New("builder already sealed")
)

// BuildError is returned when sealing the archive fails. The output path is
// left untouched.
type BuildError struct {
	// Output is the requested artifact path.
	Output string
	// Cause is the underlying I/O failure.
	Cause error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("building archive %q: %v", e.Output, e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Builder accumulates archive entries and configuration, then seals them
// into one artifact. A Builder is single-use: after Build it is sealed and
// rejects further mutation.
type Builder struct {
	stageDir   string
	interp     *interpreter.Descriptor
	entryPoint string
	zipSafe    bool
	entries    map[string]manifest.Category
	sealed     bool
}

// New allocates build state rooted at workspaceDir, which must already exist
// and be private to this build. The final output path is not touched until
// Build.
func New(workspaceDir string, interp *interpreter.Descriptor) (*Builder, error) {
	if interp == nil {
		return nil, fmt.Errorf("creating builder: interpreter descriptor is required")
	}
	stageDir := filepath.Join(workspaceDir, stageDirName)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Builder{
		stageDir:   stageDir,
		interp:     interp,
		entryPoint: DefaultEntryPoint,
		entries:    make(map[string]manifest.Category),
	}, nil
}

// SetZipSafe records the zip-safety classification embedded in the archive
// metadata. Zip-safe archives keep all contents packed; the interpreter's
// zip-import mechanism loads modules without unpacking to disk.
func (b *Builder) SetZipSafe(zipSafe bool) {
	b.zipSafe = zipSafe
}

// SetEntryPoint records the module executed when the archive runs.
func (b *Builder) SetEntryPoint(name string) {
	if name == "" {
		name = DefaultEntryPoint
	}
	b.entryPoint = name
}

// AddModule stages a resolved source file as an importable module under the
// given destination path.
func (b *Builder) AddModule(destination, resolvedSource string) error {
	return b.add(destination, resolvedSource, manifest.CategoryModule)
}

// AddResource stages a resolved source file as a bundled data file under the
// given destination path.
func (b *Builder) AddResource(destination, resolvedSource string) error {
	return b.add(destination, resolvedSource, manifest.CategoryResource)
}

func (b *Builder) add(destination, resolvedSource string, category manifest.Category) error {
	if b.sealed {
		return ErrSealed
	}
	if destination == InfoName {
		return fmt.Errorf("%s %q: %w", category, destination, ErrReservedDestination)
	}
	if !fspath.IsRelativePosix(destination) {
		return fmt.Errorf("%s %q: %w", category, destination, ErrDestinationEscape)
	}

	// Re-check against the staging root after joining. Defense in depth for
	// destinations that slip past the lexical check on exotic platforms.
	staged := filepath.Join(b.stageDir, filepath.FromSlash(destination))
	rel, err := filepath.Rel(b.stageDir, staged)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s %q: %w", category, destination, ErrDestinationEscape)
	}

	if prev, ok := b.entries[destination]; ok {
		return fmt.Errorf("%s %q already registered as %s: %w", category, destination, prev, ErrDuplicateDestination)
	}

	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		return fmt.Errorf("staging %q: %w", destination, err)
	}
	if err := stageFile(resolvedSource, staged); err != nil {
		return fmt.Errorf("staging %q from %q: %w", destination, resolvedSource, err)
	}

	b.entries[destination] = category
	return nil
}

// stageFile places src into the staging tree, hard-linking when the
// filesystem allows it and copying otherwise.
func stageFile(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// Destinations returns the registered destination paths in sorted order.
func (b *Builder) Destinations() []string {
	dests := maps.Keys(b.entries)
	slices.Sort(dests)
	return dests
}

// Build seals all registered entries plus metadata into a single executable
// archive at outputPath. On success outputPath exists and is independently
// executable. On failure nothing is left at outputPath and the builder state
// is still intact (the caller's workspace cleanup disposes of staging).
func (b *Builder) Build(outputPath string) error {
	if b.sealed {
		return &BuildError{Output: outputPath, Cause: ErrSealed}
	}

	absOutput, err := filepath.Abs(outputPath)
	if err != nil {
		return &BuildError{Output: outputPath, Cause: err}
	}

	// The partial file lives next to the final output so the rename at the
	// end stays on one filesystem and is atomic.
	partial := filepath.Join(filepath.Dir(absOutput), ".pexbuild-"+uuid.NewString()+".partial")
	if err := b.writeArchive(partial); err != nil {
		os.Remove(partial)
		return &BuildError{Output: outputPath, Cause: err}
	}
	if err := os.Rename(partial, absOutput); err != nil {
		os.Remove(partial)
		return &BuildError{Output: outputPath, Cause: err}
	}

	b.sealed = true
	return nil
}

func (b *Builder) writeArchive(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "#!%s\n", b.interp.Binary); err != nil {
		return err
	}

	zw := zip.NewWriter(f)

	infoData, err := newInfo(b.entryPoint, b.zipSafe, b.interp).encode()
	if err != nil {
		return err
	}
	if err := writeMember(zw, InfoName, infoData); err != nil {
		return err
	}

	// A manifest module destined for __main__.py becomes the archive main
	// itself (the interpreter runs a zip's top-level __main__.py directly);
	// otherwise the generated bootstrap claims that slot.
	if _, userMain := b.entries[MainName]; !userMain {
		if err := writeMember(zw, MainName, []byte(bootstrapSource)); err != nil {
			return err
		}
	}

	for _, dst := range b.Destinations() {
		data, err := os.ReadFile(filepath.Join(b.stageDir, filepath.FromSlash(dst)))
		if err != nil {
			return err
		}
		if err := writeMember(zw, dst, data); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

// writeMember adds one file to the zip with deterministic attributes.
func writeMember(zw *zip.Writer, name string, data []byte) error {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: zipEpoch,
	}
	hdr.SetMode(0o644)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("creating archive member %q: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing archive member %q: %w", name, err)
	}
	return nil
}
