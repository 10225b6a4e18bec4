package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"postcast/internal/app"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the postcast version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "postcast version %s\n", app.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
