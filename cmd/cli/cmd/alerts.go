package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage standing alerts",
	Long:  `Inspect and resolve the alerts the engine has raised. Alerts stay active until an operator resolves them.`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))

		activeOnly, _ := cmd.Flags().GetBool("active")
		limit, _ := cmd.Flags().GetInt("limit")

		alerts, err := client.ListAlerts(activeOnly, limit)
		if err != nil {
			cmd.Printf("Error fetching alerts: %s\n", err)
			os.Exit(1)
		}

		if len(alerts) == 0 {
			cmd.Println("No alerts found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSEVERITY\tSTATUS\tTITLE\tTRIGGERED AT")
		for _, a := range alerts {
			title := a.Title
			if len(title) > 50 {
				title = title[:47] + "..."
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ID,
				a.Type,
				a.Severity,
				a.Status,
				title,
				a.TriggeredAt.Format(time.RFC3339),
			)
		}
		w.Flush()
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve [alert_id]",
	Short: "Resolve an active alert",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		alertID := args[0]
		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))

		if err := client.ResolveAlert(alertID); err != nil {
			cmd.Printf("Error resolving alert: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("✓ Alert %s resolved\n", alertID)
	},
}

func init() {
	alertsListCmd.Flags().Bool("active", false, "Only show active alerts")
	alertsListCmd.Flags().Int("limit", 50, "Maximum number of alerts to list")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd)
}
