// Command sq drives a fleet of long-running AI coding agents through a
// full specification: analyze, enumerate, plan, build, review, revise,
// resolve conflicts, and report completion, persisting durable state
// throughout so a run can be resumed after any interruption.
package main

import (
	"os"

	"github.com/AbdelazizMoustafa10m/sq/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
