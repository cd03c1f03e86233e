// Package main is the entry point for the texshare CLI.
//
// Usage:
//
//	texshare [flags] <command> [args]
//
// Commands:
//
//	list     - List streams broadcast by live processes
//	produce  - Broadcast an animated test pattern
//	watch    - Follow a stream, reconnecting when its producer goes away
//	mux      - Composite several streams into one broadcast
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/gogpu/texshare/cmd/texshare/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
