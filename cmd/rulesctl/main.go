// Command rulesctl manages the fraud rule collection from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/liamcoop/fraudrules/cmd/rulesctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
