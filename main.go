// SPDX-License-Identifier: MPL-2.0

package main

import cmd "pexbuild-cli/cmd/pexbuild"

func main() {
	cmd.Execute()
}
