package main

import (
	"os"

	"github.com/julienmarie/spatial/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
