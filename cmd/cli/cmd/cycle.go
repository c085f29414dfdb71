package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Trigger an immediate learning cycle",
	Long: `Schedule an immediate learning cycle for your tenant instead of
waiting for the next scheduled run. The cycle runs in the background;
watch the audit timeline for its stages.`,
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the OPTIPLANE_TOKEN environment variable")
			return
		}

		client := NewEngineClient(viper.GetString("url"), token)
		result, err := client.TriggerCycle()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Learning cycle triggered for tenant %s\n", result.TenantID)
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}
