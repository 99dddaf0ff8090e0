// Command filemesh is the single CLI entrypoint for the peer-to-peer file
// transfer engine: run a peer, send a file to one, or query/control a
// running peer's control API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
