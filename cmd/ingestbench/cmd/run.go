package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/ingestbench/internal/common/app"
	"github.com/G-Research/ingestbench/internal/ingestbench"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs every configured strategy over the source and reports how long each took",
		RunE:  runBenchmark,
	}
	return cmd
}

func runBenchmark(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return ingestbench.Run(app.CreateContextWithShutdown(), config)
}
