package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit timeline",
	Long: `Show the audit trail of engine and operator actions, newest first.

Example:
  optictl audit --since 2026-03-01T00:00:00Z --limit 100`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))

		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := client.ListAudit(since, limit)
		if err != nil {
			cmd.Printf("Error fetching audit entries: %s\n", err)
			os.Exit(1)
		}

		if len(entries) == 0 {
			cmd.Println("No audit entries found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RECORDED AT\tACTION\tENTITY\tACTOR\tRISK\tOK\tDESCRIPTION")
		for _, e := range entries {
			desc := e.Description
			if len(desc) > 60 {
				desc = desc[:57] + "..."
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				e.RecordedAt.Format(time.RFC3339),
				e.ActionType,
				e.EntityType,
				e.ActorType,
				e.RiskLevel,
				e.Success,
				desc,
			)
		}
		w.Flush()
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List generated audit reports",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))

		limit, _ := cmd.Flags().GetInt("limit")

		reports, err := client.ListReports(limit)
		if err != nil {
			cmd.Printf("Error fetching reports: %s\n", err)
			os.Exit(1)
		}

		if len(reports) == 0 {
			cmd.Println("No reports found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tPERIOD\tEVENTS\tCRITICAL\tGENERATED AT")
		for _, r := range reports {
			fmt.Fprintf(w, "%s\t%s\t%s - %s\t%d\t%d\t%s\n",
				r.ID,
				r.ReportType,
				r.PeriodStart.Format("2006-01-02"),
				r.PeriodEnd.Format("2006-01-02"),
				r.TotalEvents,
				r.CriticalEvents,
				r.GeneratedAt.Format(time.RFC3339),
			)
		}
		w.Flush()
	},
}

func init() {
	auditCmd.Flags().String("since", "", "Only show entries recorded at or after this RFC3339 timestamp")
	auditCmd.Flags().Int("limit", 50, "Maximum number of entries to list")

	reportsCmd.Flags().Int("limit", 50, "Maximum number of reports to list")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(reportsCmd)
}
