// Package main is the entry point for the tsswitch transport stream switcher.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/tsswitch/cmd"
	_ "firestige.xyz/tsswitch/plugins"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
