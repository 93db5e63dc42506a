// Package main implements the entry point of the Zimit broker, the API that
// admits website capture requests, hands them to the Zimfarm and notifies
// requesters when their ZIM is ready.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
