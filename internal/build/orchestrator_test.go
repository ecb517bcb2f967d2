// SPDX-License-Identifier: MPL-2.0

package build

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"pexbuild-cli/internal/archive"
	"pexbuild-cli/internal/interpreter"
	"pexbuild-cli/pkg/fspath"
	"pexbuild-cli/pkg/manifest"
)

func fakePython(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter scripts require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "python")
	script := "#!/bin/sh\necho '{\"implementation\": \"CPython\", \"version\": \"3.11.4\", \"platform\": \"linux\"}'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func quietOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return New(cfg)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// scratchDirs lists pexbuild workspaces currently present in the temp dir.
func scratchDirs(t *testing.T) map[string]bool {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "pexbuild-*"))
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]bool, len(matches))
	for _, m := range matches {
		out[m] = true
	}
	return out
}

func assertNoNewScratch(t *testing.T, before map[string]bool) {
	t.Helper()
	for dir := range scratchDirs(t) {
		if !before[dir] {
			t.Errorf("scratch workspace %s survived the build", dir)
		}
	}
}

func TestRun_BuildsArchiveFromManifest(t *testing.T) {
	src := t.TempDir()
	mainSrc := writeFile(t, src, "main.py", "print('hello')\n")
	dataSrc := writeFile(t, src, "data.txt", "payload\n")

	m := &manifest.Manifest{
		Modules:   map[string]string{"app/main.py": mainSrc},
		Resources: map[string]string{"app/data.txt": dataSrc},
	}

	before := scratchDirs(t)
	output := filepath.Join(t.TempDir(), "app.pex")
	o := quietOrchestrator(Config{ThirdPartyRoot: "/repo/third-party"})
	err := o.Run(context.Background(), m, Options{
		Output:     output,
		EntryPoint: "app.main",
		Python:     fakePython(t),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertNoNewScratch(t, before)

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	nl := bytes.IndexByte(data, '\n')
	payload := data[nl+1:]
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("output is not a shebang-prefixed zip: %v", err)
	}

	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{archive.InfoName, archive.MainName, "app/main.py", "app/data.txt"} {
		if !names[want] {
			t.Errorf("archive is missing member %q (have %v)", want, names)
		}
	}

	for _, f := range zr.File {
		if f.Name != archive.InfoName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		info, err := archive.ReadInfo(raw)
		if err != nil {
			t.Fatal(err)
		}
		if !info.ZipSafe {
			t.Error("ZipSafe = false, want true")
		}
		if info.EntryPoint != "app.main" {
			t.Errorf("EntryPoint = %q", info.EntryPoint)
		}
		if len(info.Extras) != 1 || info.Extras[0].Name != "setuptools" ||
			info.Extras[0].Location != filepath.Join("/repo/third-party", "py", "setuptools") {
			t.Errorf("Extras = %+v, want the setuptools override", info.Extras)
		}
	}
}

func TestRun_ResolvesLeafSymlinks(t *testing.T) {
	src := t.TempDir()
	real := writeFile(t, src, "real.py", "x = 1\n")
	link := filepath.Join(src, "alias.py")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}

	m := &manifest.Manifest{Modules: map[string]string{"app/mod.py": link}}
	output := filepath.Join(t.TempDir(), "out.pex")

	o := quietOrchestrator(Config{})
	if err := o.Run(context.Background(), m, Options{Output: output, Python: fakePython(t)}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := readArchiveMember(t, output, "app/mod.py"); string(got) != "x = 1\n" {
		t.Errorf("app/mod.py = %q, want the symlink target's content", got)
	}
}

// readArchiveMember decompresses one member of a sealed archive. Members are
// deflated, so content checks must go through a zip reader rather than the
// raw artifact bytes.
func readArchiveMember(t *testing.T, path, name string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		t.Fatalf("archive %s has no shebang line", path)
	}
	payload := data[nl+1:]
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("output is not a shebang-prefixed zip: %v", err)
	}

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			t.Fatal(err)
		}
		return content
	}
	t.Fatalf("archive %s has no member %q", path, name)
	return nil
}

func TestRun_LogsEffectiveEntryPoint(t *testing.T) {
	src := writeFile(t, t.TempDir(), "a.py", "")
	m := &manifest.Manifest{Modules: map[string]string{"a.py": src}}

	var logBuf bytes.Buffer
	o := New(Config{Logger: log.New(&logBuf)})
	output := filepath.Join(t.TempDir(), "out.pex")
	if err := o.Run(context.Background(), m, Options{Output: output, Python: fakePython(t)}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// An empty option falls back to the builder default; the log must show
	// what was actually embedded, not the empty input.
	if !strings.Contains(logBuf.String(), "entry_point="+archive.DefaultEntryPoint) {
		t.Errorf("success log %q does not report the effective entry point", logBuf.String())
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name     string
		manifest *manifest.Manifest
		opts     func(t *testing.T) Options
		check    func(t *testing.T, err error)
	}{
		{
			name:     "missing source path",
			manifest: &manifest.Manifest{Modules: map[string]string{"a.py": "/no/such/file.py"}},
			opts: func(t *testing.T) Options {
				return Options{Output: filepath.Join(t.TempDir(), "out.pex"), Python: fakePython(t)}
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, os.ErrNotExist) {
					t.Errorf("err = %v, want wrapped os.ErrNotExist", err)
				}
			},
		},
		{
			name:     "interpreter not introspectable",
			manifest: &manifest.Manifest{},
			opts: func(t *testing.T) Options {
				return Options{
					Output: filepath.Join(t.TempDir(), "out.pex"),
					Python: filepath.Join(t.TempDir(), "no-python"),
				}
			},
			check: func(t *testing.T, err error) {
				var resErr *interpreter.ResolutionError
				if !errors.As(err, &resErr) {
					t.Errorf("err = %v, want *interpreter.ResolutionError", err)
				}
			},
		},
		{
			name: "symlink cycle in source",
			manifest: func() *manifest.Manifest {
				return nil // built in opts, needs the temp dir
			}(),
			opts: func(t *testing.T) Options {
				return Options{Output: filepath.Join(t.TempDir(), "out.pex"), Python: fakePython(t)}
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, fspath.ErrSymlinkCycle) {
					t.Errorf("err = %v, want ErrSymlinkCycle", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.manifest
			opts := tt.opts(t)
			if m == nil {
				dir := t.TempDir()
				a := filepath.Join(dir, "a")
				b := filepath.Join(dir, "b")
				if err := os.Symlink(b, a); err != nil {
					t.Fatal(err)
				}
				if err := os.Symlink(a, b); err != nil {
					t.Fatal(err)
				}
				m = &manifest.Manifest{Modules: map[string]string{"a.py": a}}
			}

			before := scratchDirs(t)
			o := quietOrchestrator(Config{})
			err := o.Run(context.Background(), m, opts)
			if err == nil {
				t.Fatal("Run() expected error, got nil")
			}
			tt.check(t, err)
			assertNoNewScratch(t, before)

			if _, statErr := os.Stat(opts.Output); !errors.Is(statErr, os.ErrNotExist) {
				t.Errorf("output exists after failed build (stat err = %v)", statErr)
			}
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	src := writeFile(t, t.TempDir(), "a.py", "")
	m := &manifest.Manifest{Modules: map[string]string{"a.py": src}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := scratchDirs(t)
	output := filepath.Join(t.TempDir(), "out.pex")
	o := quietOrchestrator(Config{})
	err := o.Run(ctx, m, Options{Output: output, Python: fakePython(t)})
	if err == nil {
		t.Fatal("Run() with canceled context: expected error, got nil")
	}
	assertNoNewScratch(t, before)
	if _, statErr := os.Stat(output); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("output exists after canceled build")
	}
}

func TestRun_RequiredOptions(t *testing.T) {
	o := quietOrchestrator(Config{})
	m := &manifest.Manifest{}

	if err := o.Run(context.Background(), m, Options{Python: "python3"}); err == nil {
		t.Error("Run() without output: expected error")
	}
	if err := o.Run(context.Background(), m, Options{Output: "out.pex"}); err == nil {
		t.Error("Run() without interpreter: expected error")
	}
}
