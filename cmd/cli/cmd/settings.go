package cmd

import (
	"optiplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and tune the engine settings for your tenant",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current engine settings",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))

		settings, err := client.GetSettings()
		if err != nil {
			cmd.Printf("Error fetching settings: %s\n", err)
			return
		}

		printSettings(cmd, settings)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update engine settings",
	Long: `Update one or more engine settings. Only the flags you pass are
changed; everything else keeps its current value.

Example:
  optictl settings set --auto-optimization --confidence-threshold 0.9
  optictl settings set --learning=false`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()

		var req api.UpdateSettingsRequest
		if flags.Changed("learning") {
			v, _ := flags.GetBool("learning")
			req.LearningEnabled = &v
		}
		if flags.Changed("auto-optimization") {
			v, _ := flags.GetBool("auto-optimization")
			req.AutoOptimizationEnabled = &v
		}
		if flags.Changed("confidence-threshold") {
			v, _ := flags.GetFloat64("confidence-threshold")
			req.ConfidenceThreshold = &v
		}
		if flags.Changed("min-sample-size") {
			v, _ := flags.GetInt("min-sample-size")
			req.MinSampleSize = &v
		}
		if flags.Changed("observation-window-days") {
			v, _ := flags.GetInt("observation-window-days")
			req.ObservationWindowDays = &v
		}
		if flags.Changed("rollback-window-hours") {
			v, _ := flags.GetInt("rollback-window-hours")
			req.RollbackWindowHours = &v
		}

		if req == (api.UpdateSettingsRequest{}) {
			cmd.Println("Error: no settings flags given, nothing to update")
			return
		}

		client := NewEngineClient(viper.GetString("url"), viper.GetString("token"))
		settings, err := client.UpdateSettings(req)
		if err != nil {
			cmd.Printf("Error updating settings: %s\n", err)
			return
		}

		cmd.Println("✓ Settings updated")
		printSettings(cmd, settings)
	},
}

func printSettings(cmd *cobra.Command, s *api.SettingsResponse) {
	cmd.Printf("Learning enabled:          %t\n", s.LearningEnabled)
	cmd.Printf("Auto optimization:         %t\n", s.AutoOptimizationEnabled)
	cmd.Printf("Confidence threshold:      %.2f\n", s.ConfidenceThreshold)
	cmd.Printf("Min sample size:           %d\n", s.MinSampleSize)
	cmd.Printf("Observation window (days): %d\n", s.ObservationWindowDays)
	cmd.Printf("Rollback window (hours):   %d\n", s.RollbackWindowHours)
}

func init() {
	flags := settingsSetCmd.Flags()
	flags.Bool("learning", true, "Enable or disable the learning cycle")
	flags.Bool("auto-optimization", false, "Enable or disable automatic pattern application")
	flags.Float64("confidence-threshold", 0.8, "Minimum confidence for applying patterns (0-1)")
	flags.Int("min-sample-size", 10, "Minimum samples before a pattern is considered")
	flags.Int("observation-window-days", 30, "Telemetry window used by pattern detection")
	flags.Int("rollback-window-hours", 72, "Verification delay before optimizations are measured")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
