package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"postcast/internal/submission"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List past submissions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		asJSON, _ := cmd.Flags().GetBool("json")
		switch submission.Kind(kind) {
		case "", submission.KindFile, submission.KindNotification:
		default:
			return fmt.Errorf("unknown kind %q (want file or notification)", kind)
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Logs() == nil {
			return errors.New("submission log is disabled (storage.driver=none)")
		}
		entries, err := a.Logs().Query(cmd.Context(), submission.Kind(kind))
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWHEN\tKIND\tTITLE\tRESULTS")
		for _, e := range entries {
			res := make([]string, 0, len(e.Results))
			for _, o := range e.Results {
				target := o.Destination
				if o.Account != "" {
					target += ":" + o.Account
				}
				res = append(res, target+"="+string(o.Status))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, humanize.Time(e.Created), e.Submission.Kind, e.Submission.Title, strings.Join(res, " "))
		}
		return tw.Flush()
	},
}

var logsRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete log entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Logs() == nil {
			return errors.New("submission log is disabled (storage.driver=none)")
		}
		n, err := a.Logs().RemoveMany(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d of %d\n", n, len(args))
		return nil
	},
}

func init() {
	logsCmd.Flags().String("kind", "", "only show file or notification submissions")
	logsCmd.Flags().Bool("json", false, "print entries as json")
	logsCmd.AddCommand(logsRmCmd)
	rootCmd.AddCommand(logsCmd)
}
