// Command railpos projects satellite fixes onto a rail reference model and
// publishes the live position reference of a train.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/railpos/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
