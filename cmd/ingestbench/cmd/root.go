package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-Research/ingestbench/internal/common"
	commonconfig "github.com/G-Research/ingestbench/internal/common/config"
	"github.com/G-Research/ingestbench/internal/ingestbench/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/ingestbench"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ingestbench",
		SilenceUsage: true,
		Short:        "Times alternative bulk write strategies against a record source",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	common.BindCommandlineArguments(cmd.PersistentFlags())

	cmd.AddCommand(
		runCmd(),
		migrateCmd(),
		verifyCmd(),
		serveCmd(),
		generateCmd(),
	)

	return cmd
}

func readConfig() (configuration.IngestBenchConfiguration, error) {
	var config configuration.IngestBenchConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	_, err := common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs, configuration.CustomHooks...)
	return config, err
}

func loadConfig() (configuration.IngestBenchConfiguration, error) {
	config, err := readConfig()
	if err != nil {
		return config, err
	}
	err = config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}
