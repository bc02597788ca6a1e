// preloadd is an adaptive readahead daemon: it learns which files tend
// to be mapped together by which executables and prefetches them into
// the page cache ahead of need.
package main

import (
	"fmt"
	"os"

	"preloadd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
