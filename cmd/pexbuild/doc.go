// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the CLI surface for pexbuild.
//
// The tool is single-purpose: the root command reads a build manifest from
// standard input, assembles a self-executing Python archive, and writes it
// to the one positional output path. Flags select the entry point, the
// target interpreter, and the manifest wire format; everything else comes
// from the optional config file.
package cmd
