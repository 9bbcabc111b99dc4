// Command acpd serves the merchant side of the Agentic Commerce Protocol:
// checkout sessions, delegated payment tokens and order webhooks.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
