// Command swapd runs the campus swap core: the HTTP API, the timeout
// sweeper and the outbox relay.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
