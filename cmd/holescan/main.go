// Package main provides the entry point for the holescan CLI.
package main

import (
	"fmt"
	"os"

	"github.com/minhvn/holescan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
