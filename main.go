// The main package for the hybridfetch executable.
package main

import (
	"github.com/hybridfetch/hybridfetch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
