// Package main is the entry point for hlscore-demo.
package main

import (
	"os"

	"github.com/jmylchreest/hlscore/cmd/hlscore-demo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
