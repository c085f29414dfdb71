package cmd

import (
	"optiplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new tenant",
	Long: `Register a new tenant with the engine and print its API key.

The API key is shown exactly once; store it securely. The engine only
keeps a hash of it.

Example:
  optictl tenant create --name "acme"`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))
		result, err := client.CreateTenant(api.CreateTenantRequest{Name: name})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Tenant created!\nID: %s\nName: %s\nAPI Key: %s\n", result.ID, result.Name, result.ApiKey)
		cmd.Println("Store the API key now; it cannot be retrieved again.")
	},
}

func init() {
	tenantCreateCmd.Flags().StringP("name", "n", "", "Name of the tenant (required)")

	tenantCmd.AddCommand(tenantCreateCmd)
	rootCmd.AddCommand(tenantCmd)
}
