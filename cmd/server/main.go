package main

import (
	"os"

	"github.com/iliyamo/unpacker/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
