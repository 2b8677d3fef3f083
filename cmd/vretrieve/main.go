package main

import (
	"os"

	"github.com/vretrieve/engine/cmd/vretrieve/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
