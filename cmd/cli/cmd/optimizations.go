package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var optimizationsCmd = &cobra.Command{
	Use:   "optimizations",
	Short: "List applied optimizations",
	Long: `List the optimizations the engine has applied, including their
verification status and measured improvement once verified.`,
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the OPTIPLANE_TOKEN environment variable")
			return
		}

		limit, _ := cmd.Flags().GetInt("limit")

		client := NewEngineClient(viper.GetString("url"), token)
		optimizations, err := client.ListOptimizations(limit)
		if err != nil {
			cmd.Printf("Error fetching optimizations: %s\n", err)
			os.Exit(1)
		}

		if len(optimizations) == 0 {
			cmd.Println("No optimizations found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tTARGET\tSTATUS\tIMPROVEMENT\tIMPLEMENTED AT")
		for _, o := range optimizations {
			improvement := "-"
			if o.MeasuredImprovement != nil {
				improvement = fmt.Sprintf("%.1f%%", *o.MeasuredImprovement)
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				o.ID,
				o.Type,
				o.TargetScope,
				o.Status,
				improvement,
				o.ImplementedAt.Format(time.RFC3339),
			)
		}
		w.Flush()
	},
}

func init() {
	optimizationsCmd.Flags().Int("limit", 50, "Maximum number of optimizations to list")

	rootCmd.AddCommand(optimizationsCmd)
}
