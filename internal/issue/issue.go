// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Id identifies a known failure class with user-facing guidance.
type Id int

const (
	ManifestParseId Id = iota + 1
	InterpreterResolutionId
	SymlinkCycleId
	SourceMissingId
	BuildFailedId
	ConfigLoadFailedId
)

// MarkdownMsg is guidance text rendered with glamour in verbose output.
type MarkdownMsg string

// Issue pairs a failure class with the guidance shown to the user.
type Issue struct {
	id    Id
	mdMsg MarkdownMsg
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// Render formats the guidance for the terminal.
func (i *Issue) Render(stylePath string) (string, error) {
	return render(string(i.mdMsg), stylePath)
}

var (
	render = glamour.Render

	manifestParseIssue = &Issue{
		id: ManifestParseId,
		mdMsg: `
# Couldn't parse the manifest!

The document on standard input is not a valid build manifest.

## Expected shape (JSON, the default):
~~~json
{
  "modules":   {"app/main.py": "/src/main.py"},
  "resources": {"app/data.txt": "/src/data.txt"}
}
~~~

## Things you can try:
- Check that the producing build step actually wrote to stdout
- Destination keys must be relative POSIX paths (no leading / and no ..)
- For hand-written YAML manifests, pass:
~~~
$ pexbuild --manifest-format yaml out.pex < manifest.yaml
~~~`,
	}

	interpreterResolutionIssue = &Issue{
		id: InterpreterResolutionId,
		mdMsg: `
# Couldn't resolve the Python interpreter!

The interpreter given via --python (or the configured default) could not be
introspected.

## Things you can try:
- Check the path exists and is executable:
~~~
$ /path/to/python -c 'import sys; print(sys.version)'
~~~
- Point at a concrete binary instead of a shell alias
- Set a default in your config file:
~~~cue
python: "/usr/bin/python3"
~~~`,
	}

	symlinkCycleIssue = &Issue{
		id: SymlinkCycleId,
		mdMsg: `
# Symbolic link cycle in a source path!

A manifest source path is a symlink chain that never reaches a real file.

## Things you can try:
- Inspect the chain:
~~~
$ ls -l /path/to/source
~~~
- Re-run the producing build step; stale output trees often leave
  self-referential links behind`,
	}

	sourceMissingIssue = &Issue{
		id: SourceMissingId,
		mdMsg: `
# Manifest source file not found!

A source path listed in the manifest does not exist on disk.

## Things you can try:
- Re-run the producing build step so all inputs exist before packaging
- Check for typos in the manifest's source paths
- Remember source paths are resolved relative to the current directory
  when not absolute`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# Archive build failed!

Sealing the archive at the output path did not succeed. No partial file was
left behind.

## Common causes:
- The output directory does not exist
- No write permission on the output directory
- Disk full

## Things you can try:
- Create the output directory first
- Check free space and permissions on the output location`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Your config.cue contains syntax errors or values that don't match the schema.

## Things you can try:
- Check the error message for the specific line/column
- Validate the file with the cue command-line tool
- Remove the file to fall back to built-in defaults`,
	}

	issues = map[Id]*Issue{
		manifestParseIssue.Id():         manifestParseIssue,
		interpreterResolutionIssue.Id(): interpreterResolutionIssue,
		symlinkCycleIssue.Id():          symlinkCycleIssue,
		sourceMissingIssue.Id():         sourceMissingIssue,
		buildFailedIssue.Id():           buildFailedIssue,
		configLoadFailedIssue.Id():      configLoadFailedIssue,
	}
)

// Values returns all catalogued issues in id order.
func Values() []*Issue {
	all := maps.Values(issues)
	slices.SortFunc(all, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return all
}

// Get looks up the issue for a failure class, or nil if uncatalogued.
func Get(id Id) *Issue {
	return issues[id]
}
