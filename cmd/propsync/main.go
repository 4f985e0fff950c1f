// Command propsync is a terminal client for the property-management backend:
// sign-in, typed and raw calls, live subscriptions and the offline mirror.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
