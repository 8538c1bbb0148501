package main

import (
	"os"

	"github.com/cultivar-crm/cultivar/cmd/cultivar/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
