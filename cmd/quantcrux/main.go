// Command quantcrux prices structured products, backtests strategies and
// computes portfolio risk from the command line.
package main

import (
	"os"

	"quantcrux/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
