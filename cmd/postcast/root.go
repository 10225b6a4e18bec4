package main

import (
	"github.com/spf13/cobra"

	"postcast/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "postcast",
	Short:         "Cross-post artwork and notifications to several destinations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./postcast.yaml", "path to the config file (yaml or json)")
}

// openApp builds the app for one-shot commands; callers must Close it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	return app.New(path)
}
