// SPDX-License-Identifier: MPL-2.0

package manifest_test

import (
	"errors"
	"strings"
	"testing"

	"pexbuild-cli/pkg/manifest"
)

func TestParse_JSON(t *testing.T) {
	t.Parallel()

	input := `{
		"modules": {"app/main.py": "/src/main.py", "app/util.py": "/src/util.py"},
		"resources": {"app/data.txt": "/src/data.txt"}
	}`

	m, err := manifest.Parse(strings.NewReader(input), manifest.FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := m.Modules["app/main.py"]; got != "/src/main.py" {
		t.Errorf("Modules[app/main.py] = %q, want /src/main.py", got)
	}
	if got := m.Resources["app/data.txt"]; got != "/src/data.txt" {
		t.Errorf("Resources[app/data.txt] = %q, want /src/data.txt", got)
	}
}

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	input := "modules:\n  app/main.py: /src/main.py\nresources:\n  app/data.txt: /src/data.txt\n"

	m, err := manifest.Parse(strings.NewReader(input), manifest.FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := m.Modules["app/main.py"]; got != "/src/main.py" {
		t.Errorf("Modules[app/main.py] = %q, want /src/main.py", got)
	}
}

func TestParse_DefaultsToJSON(t *testing.T) {
	t.Parallel()

	m, err := manifest.Parse(strings.NewReader(`{"modules": {}, "resources": {}}`), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Modules) != 0 || len(m.Resources) != 0 {
		t.Errorf("Parse() = %+v, want empty collections", m)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		format manifest.Format
	}{
		{name: "malformed json", input: `{"modules": `, format: manifest.FormatJSON},
		{name: "not a document", input: `[]`, format: manifest.FormatJSON},
		{name: "unknown format", input: `{}`, format: manifest.Format("toml")},
		{name: "absolute destination", input: `{"modules": {"/etc/evil": "/src/a"}}`, format: manifest.FormatJSON},
		{name: "traversal destination", input: `{"resources": {"../../escape": "/src/a"}}`, format: manifest.FormatJSON},
		{name: "empty source", input: `{"modules": {"app/a.py": ""}}`, format: manifest.FormatJSON},
		{
			name:   "cross-category collision",
			input:  `{"modules": {"app/x": "/src/x.py"}, "resources": {"app/x": "/src/x.txt"}}`,
			format: manifest.FormatJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := manifest.Parse(strings.NewReader(tt.input), tt.format)
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			var parseErr *manifest.ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("Parse() error = %v, want *ParseError", err)
			}
		})
	}
}

func TestEntries_SortedAndTagged(t *testing.T) {
	t.Parallel()

	m := &manifest.Manifest{
		Modules:   map[string]string{"b.py": "/src/b.py", "a.py": "/src/a.py"},
		Resources: map[string]string{"data.txt": "/src/data.txt"},
	}

	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() len = %d, want 3", len(entries))
	}

	want := []manifest.Entry{
		{Destination: "a.py", Source: "/src/a.py", Category: manifest.CategoryModule},
		{Destination: "b.py", Source: "/src/b.py", Category: manifest.CategoryModule},
		{Destination: "data.txt", Source: "/src/data.txt", Category: manifest.CategoryResource},
	}
	for i, e := range entries {
		if e != want[i] {
			t.Errorf("Entries()[%d] = %+v, want %+v", i, e, want[i])
		}
	}
}
