package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var destinationsCmd = &cobra.Command{
	Use:   "destinations",
	Short: "List supported destinations and configured accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		check, _ := cmd.Flags().GetBool("check")
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		status := map[string]string{}
		if check {
			a.Refresher().RunOnce(cmd.Context())
			for _, st := range a.Refresher().Statuses() {
				switch {
				case st.Error != "":
					status[st.AccountID] = "error: " + st.Error
				case st.Login.LoggedIn:
					status[st.AccountID] = "ok " + st.Login.Username
				default:
					status[st.AccountID] = "logged out"
				}
			}
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DESTINATION\tFORMATS\tACCOUNT\tSTATUS")
		for _, m := range a.Registry().Metadata() {
			accts := a.Accounts().List(m.ID)
			formats := strings.Join(m.AcceptedExtensions, ",")
			if len(accts) == 0 {
				fmt.Fprintf(tw, "%s\t%s\t-\t\n", m.ID, formats)
				continue
			}
			for _, acct := range accts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, formats, acct.ID, status[acct.ID])
			}
		}
		return tw.Flush()
	},
}

func init() {
	destinationsCmd.Flags().Bool("check", false, "verify every account's login before listing")
	rootCmd.AddCommand(destinationsCmd)
}
