// Package main provides the entry point for the ragsync CLI.
package main

import (
	"os"

	"ragsync/cmd/ragsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
