// Package main provides the dailogi command line client.
//
// Usage:
//
//	dailogi [flags] <command> [args]
//
// Commands:
//
//	scene  - Stream a new scene and print the turns as they arrive
//	roster - List characters and language models
//
// The session token is read from --token or DAILOGI_TOKEN.
package main

import (
	"fmt"
	"os"

	"github.com/dailogi/scene-client/cmd/dailogi/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
