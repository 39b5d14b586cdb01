package main

import (
	"os"

	"Go2NetSentinel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
