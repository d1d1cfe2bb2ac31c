package main

import (
	"os"

	"github.com/G-Research/ingestbench/cmd/ingestbench/cmd"
	"github.com/G-Research/ingestbench/internal/common"
)

func main() {
	common.ConfigureLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
