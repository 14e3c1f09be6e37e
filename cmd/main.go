package main

import (
	"os"

	"github.com/soundprediction/go-vetgraph/cmd/vetgraph"
)

func main() {
	if err := vetgraph.Execute(); err != nil {
		os.Exit(1)
	}
}
