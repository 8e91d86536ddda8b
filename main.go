package main

import (
	"os"

	"github.com/igorsilveira/caremesh/cmd/caremesh"
)

func main() {
	if err := caremesh.Execute(); err != nil {
		os.Exit(1)
	}
}
