// Command codeundo-sandbox mounts a FUSE filesystem over a working
// directory that records every mutation as a reversible step, and serves
// the command channel that a controlling agent uses to open, close, and
// roll back steps.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
