package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List detected performance patterns",
	Long: `List the performance patterns the engine has detected from execution
telemetry, newest first.

Example:
  optictl patterns --active --limit 20`,
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the OPTIPLANE_TOKEN environment variable")
			return
		}

		activeOnly, _ := cmd.Flags().GetBool("active")
		limit, _ := cmd.Flags().GetInt("limit")

		client := NewEngineClient(viper.GetString("url"), token)
		patterns, err := client.ListPatterns(activeOnly, limit)
		if err != nil {
			cmd.Printf("Error fetching patterns: %s\n", err)
			os.Exit(1)
		}

		if len(patterns) == 0 {
			cmd.Println("No patterns found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSCOPE\tCONFIDENCE\tSAMPLES\tAPPLIED\tDETECTED AT")
		for _, p := range patterns {
			fmt.Fprintf(w, "%s\t%s\t%s/%s\t%.2f\t%d\t%t\t%s\n",
				p.ID,
				p.Type,
				p.ScopeType,
				p.ScopeID,
				p.Confidence,
				p.SampleSize,
				p.Applied,
				p.DetectedAt.Format(time.RFC3339),
			)
		}
		w.Flush()
	},
}

func init() {
	patternsCmd.Flags().Bool("active", false, "Only show active patterns")
	patternsCmd.Flags().Int("limit", 50, "Maximum number of patterns to list")

	rootCmd.AddCommand(patternsCmd)
}
