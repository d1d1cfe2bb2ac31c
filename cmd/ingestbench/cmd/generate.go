package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/G-Research/ingestbench/internal/ingestbench"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Writes a synthetic address file in the layout the source reads",
		RunE:  generate,
	}
	cmd.Flags().String("out", "addresses.csv", "Path of the file to write")
	cmd.Flags().Int("records", 100000, "Number of records to write, excluding the header")
	cmd.Flags().Int64("seed", 1, "Seed of the generated data; equal seeds and record counts give identical files")
	return cmd
}

func generate(cmd *cobra.Command, _ []string) error {
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return errors.WithStack(err)
	}
	records, err := cmd.Flags().GetInt("records")
	if err != nil {
		return errors.WithStack(err)
	}
	seed, err := cmd.Flags().GetInt64("seed")
	if err != nil {
		return errors.WithStack(err)
	}
	return ingestbench.Generate(out, records, seed)
}
