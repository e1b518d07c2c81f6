// Command haggle-ctl is a command-line client for the haggled daemon,
// talking to it over the application control endpoint of spec.md §4.6.
package main

import (
	"fmt"
	"os"

	"github.com/haggle-net/haggle/cmd/haggle-ctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
