// Command dpm is the defense-program management service: CPM scheduling,
// resource leveling, earned-value reporting, Monte Carlo schedule risk,
// and bidirectional Jira sync behind an HTTP API.
package main

import (
	"ironclad.dev/dpm/cli"
)

func main() {
	cli.Execute()
}
