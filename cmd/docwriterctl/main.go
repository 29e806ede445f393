// Package main provides the entry point for the docwriterctl CLI.
package main

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/memcp-go/internal/dctl"
)

func main() {
	if err := dctl.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
