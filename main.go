// The main package for the scholarship crawler executable.
package main

import (
	"github.com/JakeFAU/scholarship-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
