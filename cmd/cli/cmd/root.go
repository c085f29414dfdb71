package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "optictl",
	Short: "Optictl is a command line tool for interacting with the optiplane engine",
	Long: `optictl is the command-line interface for the Optiplane continuous
learning and optimization engine.

Optiplane observes how a tenant's virtual workforce executes tasks,
detects recurring performance patterns, and applies conservative
optimizations with a full audit trail. optictl gives operators
read access to the engine's findings and control over its behavior.

Common workflows:

  Register a tenant:
    optictl tenant create --name "acme"

  Inspect detected patterns:
    optictl patterns --active

  Review standing alerts and resolve one:
    optictl alerts list
    optictl alerts resolve <alert-id>

  Tune the engine:
    optictl settings get
    optictl settings set --confidence-threshold 0.9

  Trigger an immediate learning cycle:
    optictl cycle

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    OPTIPLANE_URL      API endpoint (default: http://localhost:6161)
    OPTIPLANE_TOKEN    Tenant API token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".optictl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".optictl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "OPTIPLANE_VARNAME"
	viper.SetEnvPrefix("OPTIPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.optictl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Optiplane engine URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
