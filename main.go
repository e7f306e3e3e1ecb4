// The main package for the webwalker executable.
package main

import (
	"github.com/JakeFAU/webwalker/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
