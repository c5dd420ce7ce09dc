// Command gemctl is the operator CLI for the gemshare scheduler. It talks to
// the scheduler's admin HTTP API and renders clients, stats and history.
package main

import (
	"os"

	"github.com/gemshare/gemshare/cmd/gemctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
