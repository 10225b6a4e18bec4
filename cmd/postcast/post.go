package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"postcast/internal/destination"
	"postcast/internal/poster"
	"postcast/internal/submission"
)

var postCmd = &cobra.Command{
	Use:   "post <submission.yaml>",
	Short: "Post a submission to one or more destinations",
	Long: `Reads a submission document (yaml or json) and posts it to every --to target.
A target is "destination" (every configured account) or "destination:account".
Ctrl-C cancels the attempts still running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringSlice("to")
		asJSON, _ := cmd.Flags().GetBool("json")
		targets, err := parseTargets(raw)
		if err != nil {
			return err
		}
		sub, err := submission.Load(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		rep, err := a.Poster().Post(ctx, sub, targets)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), rep)
		}
		if n := failures(rep); n > 0 {
			return fmt.Errorf("%d of %d target(s) did not succeed", n, len(rep.Outcomes))
		}
		return nil
	},
}

func init() {
	postCmd.Flags().StringSliceP("to", "t", nil, "target destination[:account], repeatable")
	postCmd.Flags().Bool("json", false, "print the report as json")
	_ = postCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(postCmd)
}

func parseTargets(raw []string) ([]submission.Target, error) {
	if len(raw) == 0 {
		return nil, errors.New("no targets given")
	}
	out := make([]submission.Target, 0, len(raw))
	for _, r := range raw {
		t, err := submission.ParseTarget(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func failures(rep poster.Report) int {
	n := 0
	for _, o := range rep.Outcomes {
		if o.Status != destination.StatusSucceeded {
			n++
		}
	}
	return n
}

func printReport(w io.Writer, rep poster.Report) {
	keys := make([]string, 0, len(rep.Outcomes))
	for k := range rep.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSTATUS\tDETAIL")
	for _, k := range keys {
		o := rep.Outcomes[k]
		detail := o.Reason
		if o.Status == destination.StatusSucceeded && o.Result != nil {
			detail = o.Result.URL
			if detail == "" {
				detail = o.Result.ID
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k, o.Status, detail)
		for _, p := range o.Problems {
			fmt.Fprintf(tw, "\t\tproblem: %s\n", p)
		}
		for _, wn := range o.Warnings {
			fmt.Fprintf(tw, "\t\twarning: %s\n", wn)
		}
	}
	_ = tw.Flush()
	if rep.LogID != "" {
		fmt.Fprintf(w, "logged as %s\n", rep.LogID)
	}
	if strings.TrimSpace(rep.SubmissionID) != "" {
		fmt.Fprintf(w, "submission %s\n", rep.SubmissionID)
	}
}
