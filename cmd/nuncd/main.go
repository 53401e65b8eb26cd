// Command nuncd is a demo host that wires a nunc.Pool up to a small job
// set, a YAML config file, and a Prometheus metrics endpoint. It plays
// the role cmd/demo/main.go played for the teacher's queue system: a
// thin binary that proves the library out, not part of the library
// itself.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/nunc-stans/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
