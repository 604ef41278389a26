// Command qks manages a qkeystore container and runs the enrollment server.
package main

import (
	"fmt"
	"os"
)

// Build-time variables, set with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
