// Command conciergectl runs maintenance operations against the concierge
// database outside the server.
package main

import (
	"fmt"
	"os"

	"guest-concierge/cmd/conciergectl/commands"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
