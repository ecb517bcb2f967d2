// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"encoding/json"
	"fmt"

	"pexbuild-cli/internal/interpreter"
)

const (
	// InfoName is the metadata document's path inside the archive.
	InfoName = "PEX-INFO"
	// MainName is the bootstrap module's path inside the archive.
	MainName = "__main__.py"

	// infoFormatVersion identifies the metadata layout for future readers.
	infoFormatVersion = 1
)

// Info is the metadata document embedded in every built archive. Field order
// is fixed by the struct, so two builds from the same inputs serialize to
// identical bytes regardless of workspace paths.
type Info struct {
	FormatVersion int             `json:"format_version"`
	EntryPoint    string          `json:"entry_point"`
	ZipSafe       bool            `json:"zip_safe"`
	Interpreter   InterpreterInfo `json:"interpreter"`
	Extras        []ExtraInfo     `json:"extras"`
}

// InterpreterInfo records the target interpreter identity.
type InterpreterInfo struct {
	Binary   string `json:"binary"`
	Identity string `json:"identity"`
}

// ExtraInfo is one injected capability override: the named package version
// is provided by Location instead of whatever the host interpreter reports.
type ExtraInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location"`
}

// newInfo captures build metadata from the builder state.
func newInfo(entryPoint string, zipSafe bool, interp *interpreter.Descriptor) Info {
	info := Info{
		FormatVersion: infoFormatVersion,
		EntryPoint:    entryPoint,
		ZipSafe:       zipSafe,
		Interpreter: InterpreterInfo{
			Binary:   interp.Binary,
			Identity: interp.Identity.Tag(),
		},
		Extras: []ExtraInfo{},
	}
	for _, c := range interp.SortedExtras() {
		info.Extras = append(info.Extras, ExtraInfo{
			Name:     c.Name,
			Version:  c.Version,
			Location: interp.Extras[c],
		})
	}
	return info
}

// encode serializes the metadata document.
func (i Info) encode() ([]byte, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", InfoName, err)
	}
	return append(data, '\n'), nil
}

// ReadInfo decodes a metadata document, e.g. when inspecting a built archive.
func ReadInfo(data []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("decoding %s: %w", InfoName, err)
	}
	return info, nil
}

// bootstrapSource is the generated __main__.py. When the interpreter executes
// the archive, this module reads PEX-INFO from the archive it lives in,
// prepends the extra-capability locations to sys.path, and runs the entry
// point module in place, keeping every bundled file loaded straight from the
// zip (the zip-safe contract).
const bootstrapSource = `"""Bootstrap generated by pexbuild. Do not edit."""
import json
import os
import runpy
import sys
import zipfile


def _load_info(archive):
    with zipfile.ZipFile(archive) as zf:
        return json.loads(zf.read("PEX-INFO").decode("utf-8"))


def _main():
    archive = os.path.dirname(os.path.abspath(__file__))
    info = _load_info(archive)
    for extra in info.get("extras", []):
        location = extra.get("location")
        if location and location not in sys.path:
            sys.path.insert(0, location)
    if archive not in sys.path:
        sys.path.insert(0, archive)
    entry = info.get("entry_point") or "__main__"
    if entry == "__main__":
        sys.exit("pexbuild: archive has no entry point module; "
                 "rebuild with an explicit --entry-point")
    runpy.run_module(entry, run_name="__main__", alter_sys=True)


if __name__ == "__main__":
    _main()
`
