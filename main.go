// Command madym is the CLI entrypoint; it delegates to the Cobra root
// command in cmd/root.go.
package main

import (
	"github.com/qbi-lab/madym/cmd"
)

func main() {
	cmd.Execute()
}
