package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/ingestbench/internal/common/app"
	commonconfig "github.com/G-Research/ingestbench/internal/common/config"
	"github.com/G-Research/ingestbench/internal/ingestbench"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts an HTTP receiver that writes posted batches with the sql backend",
		RunE:  serve,
	}
	return cmd
}

func serve(_ *cobra.Command, _ []string) error {
	config, err := readConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateReceiver(); err != nil {
		commonconfig.LogValidationErrors(err)
		return err
	}
	return ingestbench.Serve(app.CreateContextWithShutdown(), config)
}
