package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/ingestbench/internal/common/app"
	"github.com/G-Research/ingestbench/internal/ingestbench"
)

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Checks that every strategy destination holds as many records as the source",
		RunE:  verify,
	}
	return cmd
}

func verify(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	_, err = ingestbench.Verify(app.CreateContextWithShutdown(), config)
	return err
}
