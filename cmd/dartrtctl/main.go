// Command dartrtctl runs and inspects a dartrt runtime.
package main

import (
	"fmt"
	"os"

	"github.com/dash-hpc/dartrt/cmd/dartrtctl/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
