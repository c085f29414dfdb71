package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "List compliance assessment results",
	Long: `List the engine's compliance assessments per framework (LGPD,
SOX_LIKE, ISO_27001), newest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))

		limit, _ := cmd.Flags().GetInt("limit")

		results, err := client.ListCompliance(limit)
		if err != nil {
			cmd.Printf("Error fetching compliance results: %s\n", err)
			os.Exit(1)
		}

		if len(results) == 0 {
			cmd.Println("No compliance results found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "FRAMEWORK\tSTATUS\tSCORE\tRISK\tFINDINGS\tASSESSED AT")
		for _, r := range results {
			findings := strings.Join(r.Findings, "; ")
			if len(findings) > 60 {
				findings = findings[:57] + "..."
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				r.Framework,
				r.Status,
				r.Score,
				r.RiskLevel,
				findings,
				r.AssessedAt.Format(time.RFC3339),
			)
		}
		w.Flush()
	},
}

func init() {
	complianceCmd.Flags().Int("limit", 50, "Maximum number of results to list")

	rootCmd.AddCommand(complianceCmd)
}
