// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/opforge/opforge/cmd/opforge"

func main() {
	cmd.Execute()
}
